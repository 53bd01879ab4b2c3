// Package retry wraps account operations with the expired-token
// recovery pipeline: run once, inspect the error code, refresh, run
// once more. The one-retry bound is explicit in the task chain.
package retry

import (
	"context"

	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/nordlib/patron-engine/internal/tasks"
	"go.uber.org/zap"
)

// Operation is any account operation returning a task result.
type Operation func(ctx context.Context) taskres.Result[taskres.Unit]

type Wrapper struct {
	machine *accounts.Machine
	exec    *tasks.Executor
	log     *zap.Logger
}

func NewWrapper(machine *accounts.Machine, exec *tasks.Executor, log *zap.Logger) *Wrapper {
	return &Wrapper{machine: machine, exec: exec, log: log.Named("retry")}
}

// Run schedules op on the shared executor. If op fails with
// accessTokenExpired and the account holds Ekirjasto credentials, a
// refresh runs as a dependent follow-up task; on refresh success the
// operation runs exactly once more. The caller's future observes only
// the final result.
func (w *Wrapper) Run(name string, acct *accounts.Account, op Operation) *tasks.Future[taskres.Result[taskres.Unit]] {
	fut := tasks.NewFuture[taskres.Result[taskres.Unit]]()
	w.exec.Submit(name, func(ctx context.Context) {
		res := op(ctx)
		if res.Code != taskres.CodeAccessTokenExpired {
			fut.Resolve(res)
			return
		}

		creds, loggedIn := acct.Credentials()
		if !loggedIn {
			fut.Resolve(res)
			return
		}
		eCreds, isEkirjasto := creds.(accounts.EkirjastoCredentials)
		provider := acct.Provider()
		if !isEkirjasto || provider == nil {
			fut.Resolve(res)
			return
		}
		desc, hasDesc := provider.EkirjastoDescription()
		if !hasDesc {
			fut.Resolve(res)
			return
		}

		w.log.Info("access token expired, scheduling refresh",
			zap.String("account", acct.ID()), zap.String("operation", name))
		w.exec.Submit(name+" (token refresh)", func(ctx context.Context) {
			ref := w.machine.Run(ctx, acct, accounts.EkirjastoAccessTokenRefresh{
				Description: desc,
				Credentials: eCreds,
			})
			if ref.Failed() {
				// Refresh failure surfaces unchanged; the caller is
				// expected to prompt re-authentication.
				fut.Resolve(taskres.Result[taskres.Unit]{
					Steps:      ref.Steps,
					Attributes: ref.Attributes,
					Code:       ref.Code,
					Err:        ref.Err,
				})
				return
			}
			w.exec.Submit(name+" (retry)", func(ctx context.Context) {
				fut.Resolve(op(ctx))
			})
		})
	})
	return fut
}
