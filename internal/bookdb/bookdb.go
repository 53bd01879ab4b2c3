// Package bookdb is the durable per-account store of full book entries.
package bookdb

import (
	"context"

	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

type Entry struct {
	ID   books.ID
	Book opds.Entry
}

// Database is the book-database collaborator consumed by the sync
// engine and the operation controller.
type Database interface {
	// Books lists the IDs stored for one account.
	Books(ctx context.Context, accountID string) ([]books.ID, error)
	// Entry returns the stored entry or ErrNotFound.
	Entry(ctx context.Context, accountID string, id books.ID) (*Entry, error)
	// CreateOrUpdate writes the feed entry under its derived ID.
	CreateOrUpdate(ctx context.Context, accountID string, e opds.Entry) (*Entry, error)
	// WriteEntry replaces the stored entry for an existing book.
	WriteEntry(ctx context.Context, accountID string, id books.ID, e opds.Entry) error
	Delete(ctx context.Context, accountID string, id books.ID) error
}
