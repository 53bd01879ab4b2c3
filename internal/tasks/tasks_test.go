package tasks_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nordlib/patron-engine/internal/tasks"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFuture_ResolvesExactlyOnce(t *testing.T) {
	t.Parallel()
	f := tasks.NewFuture[int]()
	f.Resolve(1)
	f.Resolve(2)

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestFuture_AwaitHonorsContext(t *testing.T) {
	t.Parallel()
	f := tasks.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_RunsSubmittedTasks(t *testing.T) {
	t.Parallel()
	exec := tasks.NewExecutor(zap.NewExample(), 4)
	var ran atomic.Int32
	f := tasks.NewFuture[struct{}]()

	exec.Submit("outer", func(ctx context.Context) {
		ran.Add(1)
		// A follow-up submitted from inside a task must also run.
		exec.Submit("inner", func(ctx context.Context) {
			ran.Add(1)
			f.Resolve(struct{}{})
		})
	})

	_, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), ran.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, exec.Shutdown(ctx))
}

func TestExecutor_PanicDoesNotKillExecutor(t *testing.T) {
	t.Parallel()
	exec := tasks.NewExecutor(zap.NewExample(), 1)
	f := tasks.NewFuture[struct{}]()

	exec.Submit("panics", func(ctx context.Context) { panic("boom") })
	exec.Submit("survives", func(ctx context.Context) { f.Resolve(struct{}{}) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()
	_, err := f.Await(ctx)
	require.NoError(t, err)
}
