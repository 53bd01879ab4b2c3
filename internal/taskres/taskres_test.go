package taskres_test

import (
	"testing"

	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Success(t *testing.T) {
	t.Parallel()
	r := taskres.NewRecorder[string]()
	r.Begin("step one")
	r.Succeed("done")
	r.Begin("step two")
	r.Attribute("uri", "https://example.com/loans")
	r.Succeed("done")

	res := r.Success("value")
	require.False(t, res.Failed())
	require.Equal(t, "value", res.Value)
	require.Len(t, res.Steps, 2)
	require.Equal(t, []string{"uri"}, res.AttributeKeys())
}

func TestRecorder_FailureWritesExactlyOneTerminalStep(t *testing.T) {
	t.Parallel()
	r := taskres.NewRecorder[taskres.Unit]()
	r.Begin("fetch feed")
	r.Fail(taskres.CodeSyncFailed, "server said no", errors.New("boom"))

	res := r.Failure(taskres.CodeSyncFailed, errors.New("boom"))
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeSyncFailed, res.Code)

	failed := 0
	for _, s := range res.Steps {
		if s.Failed {
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestRecorder_FailureWithoutOpenStepSynthesizesOne(t *testing.T) {
	t.Parallel()
	r := taskres.NewRecorder[taskres.Unit]()
	res := r.Failure(taskres.CodeUnexpectedException, errors.New("panic: nil map"))
	require.True(t, res.Failed())
	require.Len(t, res.Steps, 1)
	require.True(t, res.Steps[0].Failed)
	require.Equal(t, taskres.CodeUnexpectedException, res.Steps[0].Code)
}
