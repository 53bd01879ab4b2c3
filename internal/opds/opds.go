// Package opds models the slice of an OPDS feed the engine consumes:
// entry identity, availability, formats and the links needed for
// borrow/revoke/select operations. Wire parsing stays behind FeedSource.
package opds

import "time"

type Availability string

const (
	AvailabilityLoanable    Availability = "loanable"
	AvailabilityLoaned      Availability = "loaned"
	AvailabilityHoldable    Availability = "holdable"
	AvailabilityHeld        Availability = "held"
	AvailabilityHeldReady   Availability = "heldReady"
	AvailabilityRevoked     Availability = "revoked"
	AvailabilityUnavailable Availability = "unavailable"
)

// Entry is one publication in a feed.
type Entry struct {
	ID           string
	Title        string
	Updated      time.Time
	Selected     *time.Time
	Availability Availability
	Formats      []string
	AlternateURI string
	BorrowURI    string
	RevokeURI    string
	SelectURI    string
}

// WithoutFormats returns a copy with formats cleared, which downstream
// status computation treats as "no longer obtainable".
func (e Entry) WithoutFormats() Entry {
	e.Formats = nil
	return e
}

type Feed struct {
	ID      string
	Title   string
	Entries []Entry
}

// ByID indexes the feed's entries.
func (f *Feed) ByID() map[string]Entry {
	m := make(map[string]Entry, len(f.Entries))
	for _, e := range f.Entries {
		m[e.ID] = e
	}
	return m
}
