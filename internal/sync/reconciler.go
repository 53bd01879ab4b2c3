// Package sync brings the local book database and registry into
// agreement with the server's loans and selected-items feeds.
package sync

import (
	"context"
	"net/http"

	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/bookdb"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Revoker executes server-side revocation for one book. Optional.
type Revoker interface {
	Revoke(ctx context.Context, acct *accounts.Account, id books.ID) error
}

type Reconciler struct {
	feeds    opds.FeedSource
	db       bookdb.Database
	registry *books.Registry
	resolver *accounts.Resolver
	profiles accounts.PatronProfiles
	revoker  Revoker
	log      *zap.Logger
}

func NewReconciler(
	feeds opds.FeedSource,
	db bookdb.Database,
	registry *books.Registry,
	resolver *accounts.Resolver,
	profiles accounts.PatronProfiles,
	revoker Revoker,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		feeds:    feeds,
		db:       db,
		registry: registry,
		resolver: resolver,
		profiles: profiles,
		revoker:  revoker,
		log:      log.Named("sync"),
	}
}

// SetRevoker wires the revocation collaborator after construction. The
// controller both owns the reconciler and serves as its revoker.
func (r *Reconciler) SetRevoker(rev Revoker) { r.revoker = rev }

func (r *Reconciler) Sync(ctx context.Context, acct *accounts.Account) taskres.Result[taskres.Unit] {
	rec := taskres.NewRecorder[taskres.Unit]()
	rec.Attribute("account", acct.ID())

	// Provider re-resolution keeps sync on current URIs. Failure is
	// non-fatal: continue with the previously known provider.
	if r.resolver != nil {
		rec.Begin("re-resolve account provider")
		res := r.resolver.Resolve(ctx, acct.Description())
		if res.Failed() {
			rec.Succeed("resolution failed, continuing with known provider")
			r.log.Warn("provider resolution failed",
				zap.String("account", acct.ID()),
				zap.String("code", res.Code))
		} else {
			acct.SetProvider(res.Value)
			rec.Succeed("resolved")
		}
	}

	provider := acct.Provider()
	if provider == nil {
		err := errors.New("account has no resolved provider")
		rec.Fail(taskres.CodeSyncFailed, err.Error(), err)
		return rec.Failure(taskres.CodeSyncFailed, err)
	}

	creds, loggedIn := acct.Credentials()
	if !loggedIn || provider.Authentication == nil ||
		provider.Authentication.Kind() == accounts.KindAnonymous {
		rec.Begin("check credentials")
		rec.Succeed("nothing to sync: anonymous or not logged in")
		return rec.Success(taskres.Unit{})
	}

	creds = r.refreshProfile(ctx, rec, acct, provider, creds)
	auth := accounts.AuthFor(creds)

	rec.Begin("fetch remote feeds")
	loans, selected, err := r.fetchFeeds(ctx, provider, auth)
	if err != nil {
		if recovered, code := r.classifyFetchFailure(acct, creds, err); recovered {
			rec.Succeed("recoverable fetch failure, sync ends with no changes")
			return rec.Success(taskres.Unit{})
		} else if code != "" {
			rec.Fail(code, err.Error(), err)
			return rec.Failure(code, err)
		}
		rec.Fail(taskres.CodeSyncFailed, err.Error(), err)
		return rec.Failure(taskres.CodeSyncFailed, err)
	}
	rec.Succeed("fetched")

	merged := merge(loans, selected)

	rec.Begin("update local entries")
	for _, entry := range merged {
		dbEntry, err := r.db.CreateOrUpdate(ctx, acct.ID(), entry)
		if err != nil {
			rec.Fail(taskres.CodeSyncFailed, "database write failed", err)
			return rec.Failure(taskres.CodeSyncFailed, err)
		}
		r.publish(acct.ID(), dbEntry.ID, entry)
	}
	rec.Succeed("updated")

	// Database writes for kept books are complete before any missing
	// book is considered for deletion or revocation.
	rec.Begin("remove stale entries")
	revocations, err := r.removeStale(ctx, acct, auth, merged)
	if err != nil {
		rec.Fail(taskres.CodeDeleteFailed, "stale entry removal failed", err)
		return rec.Failure(taskres.CodeDeleteFailed, err)
	}
	rec.Succeed("removed")

	if len(revocations) != 0 {
		rec.Begin("revoke server-revoked books")
		if r.revoker == nil {
			rec.Succeed("no revoker configured")
		} else {
			var failed error
			for _, id := range revocations {
				if err := r.revoker.Revoke(ctx, acct, id); err != nil {
					failed = err
					r.log.Error("revoke failed",
						zap.String("account", acct.ID()),
						zap.String("book", string(id)),
						zap.Error(err))
				}
			}
			if failed != nil {
				rec.Fail(taskres.CodeRevokeFailed, "revocation failed", failed)
				return rec.Failure(taskres.CodeRevokeFailed, failed)
			}
			rec.Succeed("revoked")
		}
	}

	return rec.Success(taskres.Unit{})
}

// refreshProfile is best-effort: a failure keeps the current credentials.
func (r *Reconciler) refreshProfile(
	ctx context.Context,
	rec *taskres.Recorder[taskres.Unit],
	acct *accounts.Account,
	provider *accounts.Provider,
	creds accounts.Credentials,
) accounts.Credentials {
	if r.profiles == nil {
		return creds
	}
	rec.Begin("refresh patron profile")
	profile, err := r.profiles.Profile(ctx, provider, creds)
	if err != nil {
		rec.Succeed("profile refresh failed, keeping known URIs")
		return creds
	}
	common := creds.Common()
	if profile.AnnotationsURI != "" {
		common.AnnotationsURI = profile.AnnotationsURI
	}
	if profile.DeviceRegistrationURI != "" {
		common.DeviceRegistrationURI = profile.DeviceRegistrationURI
	}
	creds = creds.WithCommon(common)
	acct.SetState(accounts.LoggedIn{Credentials: creds})
	rec.Succeed("refreshed")
	return creds
}

func (r *Reconciler) fetchFeeds(
	ctx context.Context,
	provider *accounts.Provider,
	auth httpx.Auth,
) (*opds.Feed, *opds.Feed, error) {
	var loans, selected *opds.Feed
	gg, gctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		f, err := r.feeds.Feed(gctx, provider.LoansURI, auth)
		if err != nil {
			return errors.WithMessage(err, "loans feed")
		}
		loans = f
		return nil
	})
	if provider.SelectedURI != "" {
		gg.Go(func() error {
			f, err := r.feeds.Feed(gctx, provider.SelectedURI, auth)
			if err != nil {
				return errors.WithMessage(err, "selected feed")
			}
			selected = f
			return nil
		})
	}
	if err := gg.Wait(); err != nil {
		return nil, nil, err
	}
	return loans, selected, nil
}

// classifyFetchFailure applies the shared 401 recovery policy: an
// Ekirjasto 401 surfaces accessTokenExpired for the refresh path; any
// other scheme's 401 forces NotLoggedIn and counts as recovered.
func (r *Reconciler) classifyFetchFailure(
	acct *accounts.Account,
	creds accounts.Credentials,
	err error,
) (recovered bool, code string) {
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		return false, ""
	}
	if creds.Kind() == accounts.KindEkirjasto {
		return false, taskres.CodeAccessTokenExpired
	}
	acct.SetState(accounts.NotLoggedIn{})
	return true, ""
}

// merge unions the two feeds. The loans entry is the base record; the
// selected timestamp is copied from the selected feed when the book
// appears there; selected-only books are taken as-is.
func merge(loans, selected *opds.Feed) map[string]opds.Entry {
	merged := map[string]opds.Entry{}
	if loans != nil {
		for _, e := range loans.Entries {
			merged[e.ID] = e
		}
	}
	if selected != nil {
		for _, e := range selected.Entries {
			if base, ok := merged[e.ID]; ok {
				base.Selected = e.Selected
				merged[e.ID] = base
				continue
			}
			merged[e.ID] = e
		}
	}
	return merged
}

// removeStale handles books present locally but absent from the merged
// set. A book last known revoked is queued for revocation; anything
// else gets its final server state captured before local deletion.
func (r *Reconciler) removeStale(
	ctx context.Context,
	acct *accounts.Account,
	auth httpx.Auth,
	merged map[string]opds.Entry,
) ([]books.ID, error) {
	mergedIDs := map[books.ID]struct{}{}
	for entryID := range merged {
		mergedIDs[books.NewID(entryID)] = struct{}{}
	}

	stored, err := r.db.Books(ctx, acct.ID())
	if err != nil {
		return nil, err
	}

	var revocations []books.ID
	for _, id := range stored {
		if _, ok := mergedIDs[id]; ok {
			continue
		}
		entry, err := r.db.Entry(ctx, acct.ID(), id)
		if err != nil {
			if errors.Is(err, bookdb.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if entry.Book.Availability == opds.AvailabilityRevoked {
			revocations = append(revocations, id)
			continue
		}

		// Capture the server's final state before deleting locally.
		final := entry.Book
		if entry.Book.AlternateURI != "" {
			if remote, err := r.feeds.Entry(ctx, entry.Book.AlternateURI, auth); err == nil {
				final = *remote
			} else {
				r.log.Warn("final state fetch failed, using cached entry",
					zap.String("book", string(id)), zap.Error(err))
			}
		}
		final = final.WithoutFormats()
		if err := r.db.WriteEntry(ctx, acct.ID(), id, final); err != nil {
			return nil, err
		}
		r.publish(acct.ID(), id, final)
		if err := r.db.Delete(ctx, acct.ID(), id); err != nil {
			return nil, err
		}
	}
	return revocations, nil
}

func (r *Reconciler) publish(accountID string, id books.ID, entry opds.Entry) {
	r.registry.Update(books.WithStatus{
		Book:   books.Book{ID: id, AccountID: accountID, Entry: entry},
		Status: books.StatusOf(entry),
	})
}
