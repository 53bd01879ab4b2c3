// Package books holds book identity, the closed status set, and the
// process-wide observable registry of current statuses.
package books

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/nordlib/patron-engine/internal/opds"
)

// ID is a stable identifier derived from a feed entry's ID.
type ID string

func NewID(entryID string) ID {
	sum := sha256.Sum256([]byte(entryID))
	return ID(hex.EncodeToString(sum[:]))
}

type Status string

const (
	StatusLoanable           Status = "loanable"
	StatusHoldable           Status = "holdable"
	StatusHeldInQueue        Status = "heldInQueue"
	StatusHeldReady          Status = "heldReady"
	StatusLoanedNotDownloaded Status = "loanedNotDownloaded"
	StatusLoanedDownloaded   Status = "loanedDownloaded"
	StatusDownloading        Status = "downloading"
	StatusRequestingLoan     Status = "requestingLoan"
	StatusRequestingDownload Status = "requestingDownload"
	StatusRequestingRevoke   Status = "requestingRevoke"
	StatusFailedLoan         Status = "failedLoan"
	StatusFailedDownload     Status = "failedDownload"
	StatusFailedRevoke       Status = "failedRevoke"
	StatusRevoked            Status = "revoked"
	StatusSelected           Status = "selected"
	StatusUnselected         Status = "unselected"
	StatusReachedLoanLimit   Status = "reachedLoanLimit"
)

type Book struct {
	ID        ID
	AccountID string
	Entry     opds.Entry
}

type WithStatus struct {
	Book   Book
	Status Status
}

// StatusOf recomputes a book's displayed status from its feed entry.
// An entry with no formats is no longer obtainable: it shows as revoked
// when the server revoked it, otherwise as unselected (removed).
func StatusOf(e opds.Entry) Status {
	if len(e.Formats) == 0 {
		if e.Availability == opds.AvailabilityRevoked {
			return StatusRevoked
		}
		return StatusUnselected
	}
	switch e.Availability {
	case opds.AvailabilityLoaned:
		return StatusLoanedNotDownloaded
	case opds.AvailabilityHoldable:
		return StatusHoldable
	case opds.AvailabilityHeld:
		return StatusHeldInQueue
	case opds.AvailabilityHeldReady:
		return StatusHeldReady
	case opds.AvailabilityRevoked:
		return StatusRevoked
	case opds.AvailabilityLoanable:
		if e.Selected != nil {
			return StatusSelected
		}
		return StatusLoanable
	case opds.AvailabilityUnavailable:
		return StatusUnselected
	}
	return StatusLoanable
}
