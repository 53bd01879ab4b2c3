package sync_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/bookdb"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/opds"
	enginesync "github.com/nordlib/patron-engine/internal/sync"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFeeds struct {
	feeds    map[string]*opds.Feed
	entries  map[string]*opds.Entry
	feedErrs map[string]error
}

func (f *fakeFeeds) Feed(_ context.Context, uri string, _ httpx.Auth) (*opds.Feed, error) {
	if err, ok := f.feedErrs[uri]; ok {
		return nil, err
	}
	if feed, ok := f.feeds[uri]; ok {
		return feed, nil
	}
	return nil, errors.Errorf("no feed at %s", uri)
}

func (f *fakeFeeds) Entry(_ context.Context, uri string, _ httpx.Auth) (*opds.Entry, error) {
	if e, ok := f.entries[uri]; ok {
		return e, nil
	}
	return nil, errors.Errorf("no entry at %s", uri)
}

type fakeRevoker struct {
	revoked []books.ID
	err     error
}

func (f *fakeRevoker) Revoke(_ context.Context, _ *accounts.Account, id books.ID) error {
	if f.err != nil {
		return f.err
	}
	f.revoked = append(f.revoked, id)
	return nil
}

const (
	loansURI    = "https://example.com/loans"
	selectedURI = "https://example.com/selected"
)

func loanEntry(id string) opds.Entry {
	return opds.Entry{
		ID:           id,
		Title:        "Book " + id,
		Updated:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Availability: opds.AvailabilityLoaned,
		Formats:      []string{"application/epub+zip"},
		AlternateURI: "https://example.com/entries/" + id,
	}
}

func loggedInAccount(kind accounts.Kind) *accounts.Account {
	acct := accounts.NewAccount(accounts.ProviderDescription{ID: "acct"})
	var auth accounts.Description
	var creds accounts.Credentials
	switch kind {
	case accounts.KindEkirjasto:
		auth = accounts.Ekirjasto{}
		creds = accounts.EkirjastoCredentials{AccessToken: "tok"}
	default:
		auth = accounts.Basic{}
		creds = accounts.BasicCredentials{User: "u", Password: "p"}
	}
	acct.SetProvider(&accounts.Provider{
		ID:             "acct",
		CatalogURI:     "https://example.com/catalog",
		LoansURI:       loansURI,
		SelectedURI:    selectedURI,
		Authentication: auth,
	})
	acct.SetState(accounts.LoggedIn{Credentials: creds})
	return acct
}

func newReconciler(feeds *fakeFeeds, db bookdb.Database, reg *books.Registry, rev enginesync.Revoker) *enginesync.Reconciler {
	return enginesync.NewReconciler(feeds, db, reg, nil, nil, rev, zap.NewExample())
}

func TestSync_MergePrefersLoansBaseWithSelectedTimestamp(t *testing.T) {
	t.Parallel()
	selectedAt := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

	a, b := loanEntry("urn:a"), loanEntry("urn:b")
	bSelected := opds.Entry{ID: "urn:b", Title: "other title", Selected: &selectedAt}
	c := opds.Entry{
		ID: "urn:c", Title: "Book urn:c", Selected: &selectedAt,
		Availability: opds.AvailabilityLoanable,
		Formats:      []string{"application/epub+zip"},
	}

	feeds := &fakeFeeds{feeds: map[string]*opds.Feed{
		loansURI:    {Entries: []opds.Entry{a, b}},
		selectedURI: {Entries: []opds.Entry{bSelected, c}},
	}}
	db := bookdb.NewMemory()
	reg := books.NewRegistry()
	acct := loggedInAccount(accounts.KindBasic)

	res := newReconciler(feeds, db, reg, &fakeRevoker{}).Sync(context.Background(), acct)
	require.False(t, res.Failed())

	ids, err := db.Books(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// B keeps all loans-feed fields but carries the selected timestamp.
	got, err := db.Entry(context.Background(), "acct", books.NewID("urn:b"))
	require.NoError(t, err)
	require.Equal(t, "Book urn:b", got.Book.Title)
	require.NotNil(t, got.Book.Selected)
	require.True(t, got.Book.Selected.Equal(selectedAt))

	// C comes from the selected feed as-is.
	gotC, err := db.Entry(context.Background(), "acct", books.NewID("urn:c"))
	require.NoError(t, err)
	require.Equal(t, books.StatusSelected, books.StatusOf(gotC.Book))
}

func TestSync_MissingBooksDeletedOrQueuedForRevocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, b := loanEntry("urn:a"), loanEntry("urn:b")
	d := loanEntry("urn:d")
	revoked := loanEntry("urn:r")
	revoked.Availability = opds.AvailabilityRevoked

	db := bookdb.NewMemory()
	_, err := db.CreateOrUpdate(ctx, "acct", a)
	require.NoError(t, err)
	_, err = db.CreateOrUpdate(ctx, "acct", d)
	require.NoError(t, err)
	_, err = db.CreateOrUpdate(ctx, "acct", revoked)
	require.NoError(t, err)

	finalD := d
	finalD.Availability = opds.AvailabilityUnavailable
	feeds := &fakeFeeds{
		feeds: map[string]*opds.Feed{
			loansURI:    {Entries: []opds.Entry{a, b}},
			selectedURI: {Entries: nil},
		},
		entries: map[string]*opds.Entry{d.AlternateURI: &finalD},
	}
	reg := books.NewRegistry()
	rev := &fakeRevoker{}
	acct := loggedInAccount(accounts.KindBasic)

	res := newReconciler(feeds, db, reg, rev).Sync(ctx, acct)
	require.False(t, res.Failed())

	// A and B kept, D deleted after its final state was captured,
	// revoked book queued for revocation (not deleted).
	ids, err := db.Books(ctx, "acct")
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]books.ID{books.NewID("urn:a"), books.NewID("urn:b"), books.NewID("urn:r")}, ids)

	require.Equal(t, []books.ID{books.NewID("urn:r")}, rev.revoked)

	// D's last published status reflects the cleared formats.
	published := reg.BookOrNil(books.NewID("urn:d"))
	require.NotNil(t, published)
	require.Equal(t, books.StatusUnselected, published.Status)
}

func TestSync_Idempotent(t *testing.T) {
	t.Parallel()
	feeds := &fakeFeeds{feeds: map[string]*opds.Feed{
		loansURI:    {Entries: []opds.Entry{loanEntry("urn:a"), loanEntry("urn:b")}},
		selectedURI: {Entries: nil},
	}}
	db := bookdb.NewMemory()
	reg := books.NewRegistry()
	acct := loggedInAccount(accounts.KindBasic)
	r := newReconciler(feeds, db, reg, &fakeRevoker{})

	res := r.Sync(context.Background(), acct)
	require.False(t, res.Failed())
	writes := db.Writes()

	res = r.Sync(context.Background(), acct)
	require.False(t, res.Failed())
	require.Equal(t, writes, db.Writes(), "second sync must not write again")
}

func TestSync_Recoverable401ForcesLogoutAndSucceeds(t *testing.T) {
	t.Parallel()
	feeds := &fakeFeeds{
		feeds:    map[string]*opds.Feed{selectedURI: {}},
		feedErrs: map[string]error{loansURI: &httpx.StatusError{Status: http.StatusUnauthorized, URI: loansURI}},
	}
	db := bookdb.NewMemory()
	acct := loggedInAccount(accounts.KindBasic)

	res := newReconciler(feeds, db, books.NewRegistry(), &fakeRevoker{}).Sync(context.Background(), acct)
	require.False(t, res.Failed())
	require.IsType(t, accounts.NotLoggedIn{}, acct.State())
	require.Zero(t, db.Writes())
}

func TestSync_Ekirjasto401SurfacesAccessTokenExpired(t *testing.T) {
	t.Parallel()
	feeds := &fakeFeeds{
		feeds:    map[string]*opds.Feed{selectedURI: {}},
		feedErrs: map[string]error{loansURI: &httpx.StatusError{Status: http.StatusUnauthorized, URI: loansURI}},
	}
	acct := loggedInAccount(accounts.KindEkirjasto)

	res := newReconciler(feeds, bookdb.NewMemory(), books.NewRegistry(), &fakeRevoker{}).
		Sync(context.Background(), acct)
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeAccessTokenExpired, res.Code)
	// The account stays logged in: the refresh path owns recovery.
	require.IsType(t, accounts.LoggedIn{}, acct.State())
}

func TestSync_AnonymousAccountIsTrivialSuccess(t *testing.T) {
	t.Parallel()
	acct := accounts.NewAccount(accounts.ProviderDescription{ID: "acct"})
	acct.SetProvider(&accounts.Provider{
		ID:             "acct",
		CatalogURI:     "https://example.com/catalog",
		Authentication: accounts.Anonymous{},
	})

	res := newReconciler(&fakeFeeds{}, bookdb.NewMemory(), books.NewRegistry(), &fakeRevoker{}).
		Sync(context.Background(), acct)
	require.False(t, res.Failed())
}

func TestSync_NonRecoverableFetchFailureFails(t *testing.T) {
	t.Parallel()
	feeds := &fakeFeeds{
		feeds:    map[string]*opds.Feed{selectedURI: {}},
		feedErrs: map[string]error{loansURI: &httpx.StatusError{Status: http.StatusInternalServerError, URI: loansURI}},
	}
	acct := loggedInAccount(accounts.KindBasic)

	res := newReconciler(feeds, bookdb.NewMemory(), books.NewRegistry(), &fakeRevoker{}).
		Sync(context.Background(), acct)
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeSyncFailed, res.Code)
}
