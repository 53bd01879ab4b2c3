package books_test

import (
	"testing"
	"time"

	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UpdateAndClear(t *testing.T) {
	t.Parallel()
	reg := books.NewRegistry()
	id := books.NewID("urn:isbn:1")

	require.Nil(t, reg.BookOrNil(id))

	reg.Update(books.WithStatus{
		Book:   books.Book{ID: id, AccountID: "acct"},
		Status: books.StatusLoanedNotDownloaded,
	})
	got := reg.BookOrNil(id)
	require.NotNil(t, got)
	require.Equal(t, books.StatusLoanedNotDownloaded, got.Status)

	reg.ClearFor(id)
	require.Nil(t, reg.BookOrNil(id))
}

func TestRegistry_SubscribeReceivesEvents(t *testing.T) {
	t.Parallel()
	reg := books.NewRegistry()
	ch, cancel := reg.Subscribe()
	defer cancel()

	id := books.NewID("urn:isbn:2")
	reg.Update(books.WithStatus{Book: books.Book{ID: id}, Status: books.StatusHeldReady})
	reg.ClearFor(id)

	ev := <-ch
	require.Equal(t, id, ev.ID)
	require.Equal(t, books.StatusHeldReady, ev.Status)

	ev = <-ch
	require.True(t, ev.Cleared)
}

func TestRegistry_SlowSubscriberDoesNotBlockWriters(t *testing.T) {
	t.Parallel()
	reg := books.NewRegistry()
	_, cancel := reg.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			reg.Update(books.WithStatus{Book: books.Book{ID: books.NewID(string(rune(i)))}})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("writer blocked by slow subscriber")
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name  string
		entry opds.Entry
		want  books.Status
	}{
		{"loaned", opds.Entry{Availability: opds.AvailabilityLoaned, Formats: []string{"application/epub+zip"}}, books.StatusLoanedNotDownloaded},
		{"held", opds.Entry{Availability: opds.AvailabilityHeld, Formats: []string{"application/epub+zip"}}, books.StatusHeldInQueue},
		{"selected loanable", opds.Entry{Availability: opds.AvailabilityLoanable, Selected: &now, Formats: []string{"application/epub+zip"}}, books.StatusSelected},
		{"revoked no formats", opds.Entry{Availability: opds.AvailabilityRevoked}, books.StatusRevoked},
		{"removed no formats", opds.Entry{Availability: opds.AvailabilityLoaned}, books.StatusUnselected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, books.StatusOf(tt.entry))
		})
	}
}
