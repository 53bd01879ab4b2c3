// Package controller composes the login machine, the reconciler and the
// retry wrapper into the engine's operation surface: login, logout,
// sync, borrow, revoke, select and unselect. Every operation runs on the
// shared executor and returns a future resolving exactly once.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/bookdb"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/nordlib/patron-engine/internal/retry"
	libsync "github.com/nordlib/patron-engine/internal/sync"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/nordlib/patron-engine/internal/tasks"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Controller struct {
	store    *accounts.Store
	machine  *accounts.Machine
	recon    *libsync.Reconciler
	wrapper  *retry.Wrapper
	exec     *tasks.Executor
	client   httpx.Client
	db       bookdb.Database
	registry *books.Registry
	log      *zap.Logger

	// borrows maps an in-flight borrow to its cancel func so a cancel
	// request can locate that specific task. Best-effort only.
	borrows stdsync.Map
}

func New(
	store *accounts.Store,
	machine *accounts.Machine,
	recon *libsync.Reconciler,
	wrapper *retry.Wrapper,
	exec *tasks.Executor,
	client httpx.Client,
	db bookdb.Database,
	registry *books.Registry,
	log *zap.Logger,
) *Controller {
	c := &Controller{
		store:    store,
		machine:  machine,
		recon:    recon,
		wrapper:  wrapper,
		exec:     exec,
		client:   client,
		db:       db,
		registry: registry,
		log:      log.Named("controller"),
	}
	// The controller executes the reconciler's queued revocations.
	recon.SetRevoker(c)
	return c
}

func (c *Controller) Accounts() *accounts.Store { return c.store }

func (c *Controller) Login(acct *accounts.Account, req accounts.LoginRequest) *tasks.Future[taskres.Result[accounts.Credentials]] {
	fut := tasks.NewFuture[taskres.Result[accounts.Credentials]]()
	c.exec.Submit("login "+acct.ID(), func(ctx context.Context) {
		fut.Resolve(c.machine.Run(ctx, acct, req))
	})
	return fut
}

func (c *Controller) Logout(acct *accounts.Account) *tasks.Future[taskres.Result[taskres.Unit]] {
	fut := tasks.NewFuture[taskres.Result[taskres.Unit]]()
	c.exec.Submit("logout "+acct.ID(), func(ctx context.Context) {
		fut.Resolve(c.machine.Logout(ctx, acct))
	})
	return fut
}

func (c *Controller) Sync(acct *accounts.Account) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.wrapper.Run("sync "+acct.ID(), acct, func(ctx context.Context) taskres.Result[taskres.Unit] {
		return c.recon.Sync(ctx, acct)
	})
}

// Borrow requests a loan for a book already known to the database. The
// task is cancellable via CancelBorrow until it completes.
func (c *Controller) Borrow(acct *accounts.Account, id books.ID) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.wrapper.Run(fmt.Sprintf("borrow %s %s", acct.ID(), id), acct,
		func(ctx context.Context) taskres.Result[taskres.Unit] {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			c.borrows.Store(id, cancel)
			defer c.borrows.Delete(id)
			return c.borrow(ctx, acct, id)
		})
}

// CancelBorrow cancels the in-flight borrow for the given book, if any.
func (c *Controller) CancelBorrow(id books.ID) bool {
	if v, ok := c.borrows.LoadAndDelete(id); ok {
		v.(context.CancelFunc)()
		return true
	}
	return false
}

func (c *Controller) borrow(ctx context.Context, acct *accounts.Account, id books.ID) taskres.Result[taskres.Unit] {
	rec := taskres.NewRecorder[taskres.Unit]()
	rec.Attribute("account", acct.ID())
	rec.Attribute("book", string(id))

	entry, err := c.db.Entry(ctx, acct.ID(), id)
	if err != nil {
		rec.Fail(taskres.CodeSyncFailed, "book not in database", err)
		return rec.Failure(taskres.CodeSyncFailed, err)
	}
	if entry.Book.BorrowURI == "" {
		err := errors.New("entry has no borrow link")
		rec.Fail(taskres.CodeFeedMalformed, err.Error(), err)
		return rec.Failure(taskres.CodeFeedMalformed, err)
	}

	c.publishStatus(acct.ID(), id, entry.Book, books.StatusRequestingLoan)

	rec.Begin("request loan")
	rec.Attribute("borrowURI", entry.Book.BorrowURI)
	res := c.acquisition(ctx, acct, id, entry.Book, httpx.Request{
		Method: http.MethodPut,
		URI:    entry.Book.BorrowURI,
	}, rec, books.StatusFailedLoan)
	if res != nil {
		return *res
	}
	rec.Succeed("loan acquired")
	return rec.Success(taskres.Unit{})
}

// RevokeBook returns a loan or hold. On success the book shows a final
// revoked status rather than disappearing silently.
func (c *Controller) RevokeBook(acct *accounts.Account, id books.ID) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.wrapper.Run(fmt.Sprintf("revoke %s %s", acct.ID(), id), acct,
		func(ctx context.Context) taskres.Result[taskres.Unit] {
			rec := taskres.NewRecorder[taskres.Unit]()
			rec.Attribute("account", acct.ID())
			rec.Attribute("book", string(id))

			entry, err := c.db.Entry(ctx, acct.ID(), id)
			if err != nil {
				rec.Fail(taskres.CodeRevokeFailed, "book not in database", err)
				return rec.Failure(taskres.CodeRevokeFailed, err)
			}
			c.publishStatus(acct.ID(), id, entry.Book, books.StatusRequestingRevoke)

			rec.Begin("revoke")
			if err := c.Revoke(ctx, acct, id); err != nil {
				c.publishStatus(acct.ID(), id, entry.Book, books.StatusFailedRevoke)
				rec.Fail(taskres.CodeRevokeFailed, err.Error(), err)
				return rec.Failure(taskres.CodeRevokeFailed, err)
			}
			rec.Succeed("revoked")
			return rec.Success(taskres.Unit{})
		})
}

// Revoke implements sync.Revoker: it executes the revocation link,
// publishes the final revoked status and removes the database entry.
func (c *Controller) Revoke(ctx context.Context, acct *accounts.Account, id books.ID) error {
	entry, err := c.db.Entry(ctx, acct.ID(), id)
	if err != nil {
		return err
	}
	creds, _ := acct.Credentials()
	auth := accounts.AuthFor(creds)

	if entry.Book.RevokeURI != "" {
		resp := c.client.Execute(ctx, httpx.Request{
			Method: http.MethodPut,
			URI:    entry.Book.RevokeURI,
			Auth:   auth,
		})
		switch t := resp.(type) {
		case httpx.OK:
		case httpx.Error:
			if !t.Problem.Benign() {
				return c.classifyError(acct, t)
			}
		case httpx.Failed:
			return t.Err
		}
	}

	final := entry.Book.WithoutFormats()
	final.Availability = opds.AvailabilityRevoked
	c.publishStatus(acct.ID(), id, final, books.StatusRevoked)
	return c.db.Delete(ctx, acct.ID(), id)
}

// Select marks a book as selected on the server and locally.
func (c *Controller) Select(acct *accounts.Account, id books.ID) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.selection(acct, id, http.MethodPost, "select", true)
}

// Unselect removes a book from the server-side selection.
func (c *Controller) Unselect(acct *accounts.Account, id books.ID) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.selection(acct, id, http.MethodDelete, "unselect", false)
}

func (c *Controller) selection(
	acct *accounts.Account,
	id books.ID,
	method, name string,
	selected bool,
) *tasks.Future[taskres.Result[taskres.Unit]] {
	return c.wrapper.Run(fmt.Sprintf("%s %s %s", name, acct.ID(), id), acct,
		func(ctx context.Context) taskres.Result[taskres.Unit] {
			rec := taskres.NewRecorder[taskres.Unit]()
			rec.Attribute("account", acct.ID())
			rec.Attribute("book", string(id))

			entry, err := c.db.Entry(ctx, acct.ID(), id)
			if err != nil {
				rec.Fail(taskres.CodeSyncFailed, "book not in database", err)
				return rec.Failure(taskres.CodeSyncFailed, err)
			}
			if entry.Book.SelectURI == "" {
				err := errors.New("entry has no selection link")
				rec.Fail(taskres.CodeFeedMalformed, err.Error(), err)
				return rec.Failure(taskres.CodeFeedMalformed, err)
			}

			creds, _ := acct.Credentials()
			rec.Begin(name)
			resp := c.client.Execute(ctx, httpx.Request{
				Method: method,
				URI:    entry.Book.SelectURI,
				Auth:   accounts.AuthFor(creds),
			})
			switch t := resp.(type) {
			case httpx.OK:
				rec.Succeed("server updated")
			case httpx.Error:
				if t.Problem.Benign() {
					// Already in the desired state.
					rec.Succeed("already in desired state: " + t.Problem.Type)
					break
				}
				if err := c.classifyError(acct, t); err != nil {
					code := taskres.CodeSyncFailed
					if se := (*httpx.StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusUnauthorized {
						code = taskres.CodeAccessTokenExpired
					}
					rec.Fail(code, t.Message, err)
					return rec.Failure(code, err)
				}
				// Recovered benign 401: treated as no-op.
				rec.Succeed("credentials expired, selection skipped")
				return rec.Success(taskres.Unit{})
			case httpx.Failed:
				rec.Fail(taskres.CodeSyncFailed, t.Err.Error(), t.Err)
				return rec.Failure(taskres.CodeSyncFailed, t.Err)
			}

			updated := entry.Book
			if selected {
				now := nowUTC()
				updated.Selected = &now
			} else {
				updated.Selected = nil
			}
			if err := c.db.WriteEntry(ctx, acct.ID(), id, updated); err != nil {
				rec.Fail(taskres.CodeSyncFailed, "database write failed", err)
				return rec.Failure(taskres.CodeSyncFailed, err)
			}
			c.publishStatus(acct.ID(), id, updated, books.StatusOf(updated))
			return rec.Success(taskres.Unit{})
		})
}

// acquisition executes a borrow-style request and stores the returned
// entry. A non-nil return is the terminal failure result.
func (c *Controller) acquisition(
	ctx context.Context,
	acct *accounts.Account,
	id books.ID,
	known opds.Entry,
	req httpx.Request,
	rec *taskres.Recorder[taskres.Unit],
	failStatus books.Status,
) *taskres.Result[taskres.Unit] {
	creds, _ := acct.Credentials()
	req.Auth = accounts.AuthFor(creds)

	resp := c.client.Execute(ctx, req)
	switch t := resp.(type) {
	case httpx.OK:
		var entry opds.Entry
		if err := json.Unmarshal(t.Body, &entry); err != nil {
			c.publishStatus(acct.ID(), id, known, failStatus)
			rec.Fail(taskres.CodeFeedMalformed, "unparsable server entry", err)
			res := rec.Failure(taskres.CodeFeedMalformed, err)
			return &res
		}
		if _, err := c.db.CreateOrUpdate(ctx, acct.ID(), entry); err != nil {
			rec.Fail(taskres.CodeSyncFailed, "database write failed", err)
			res := rec.Failure(taskres.CodeSyncFailed, err)
			return &res
		}
		c.publishStatus(acct.ID(), id, entry, books.StatusOf(entry))
		return nil
	case httpx.Error:
		if t.Problem != nil && t.Problem.Type == httpx.ProblemLoanLimitReached {
			c.publishStatus(acct.ID(), id, known, books.StatusReachedLoanLimit)
			err := errors.New("loan limit reached")
			rec.Fail(taskres.CodeHTTPError, t.Message, err)
			res := rec.Failure(taskres.CodeHTTPError, err)
			return &res
		}
		if err := c.classifyError(acct, t); err != nil {
			code := fmt.Sprintf("%s %d %s", taskres.CodeHTTPError, t.Status, t.URI)
			if se := (*httpx.StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusUnauthorized {
				code = taskres.CodeAccessTokenExpired
			}
			c.publishStatus(acct.ID(), id, known, failStatus)
			rec.Fail(code, t.Message, err)
			res := rec.Failure(code, err)
			return &res
		}
		// Benign 401 recovery: the request is dropped, not failed.
		c.publishStatus(acct.ID(), id, known, books.StatusOf(known))
		rec.Succeed("credentials expired, request dropped")
		res := rec.Success(taskres.Unit{})
		return &res
	case httpx.Failed:
		c.publishStatus(acct.ID(), id, known, failStatus)
		rec.Fail(taskres.CodeHTTPError, t.Err.Error(), t.Err)
		res := rec.Failure(taskres.CodeHTTPError, t.Err)
		return &res
	}
	return nil
}

// classifyError applies the shared 401 policy. A nil return means the
// condition was recovered (non-Ekirjasto 401: forced logout).
func (c *Controller) classifyError(acct *accounts.Account, t httpx.Error) error {
	if !t.Unauthorized() {
		return t.AsError()
	}
	creds, ok := acct.Credentials()
	if ok && creds.Kind() == accounts.KindEkirjasto {
		return t.AsError()
	}
	acct.SetState(accounts.NotLoggedIn{})
	c.log.Info("401 forced logout", zap.String("account", acct.ID()))
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func (c *Controller) publishStatus(accountID string, id books.ID, entry opds.Entry, status books.Status) {
	c.registry.Update(books.WithStatus{
		Book:   books.Book{ID: id, AccountID: accountID, Entry: entry},
		Status: status,
	})
}
