// Package taskres records the outcome of background account operations as an
// ordered step log plus a terminal error code. The codes are a stable string
// contract consumed programmatically by callers.
package taskres

import (
	"sort"
)

// Stable error codes. Callers dispatch on these; never rename.
const (
	CodeAccessTokenExpired   = "accessTokenExpired"
	CodeAuthDocumentUnusable = "authDocumentUnusable"
	CodeFeedMalformed        = "feedMalformed"
	CodeHTTPError            = "httpError"
	CodeInvalidCredentials   = "invalidCredentials"
	CodeLoginAuthNotRequired = "loginAuthNotRequired"
	CodeDeleteFailed         = "deleteFailed"
	CodeRevokeFailed         = "revokeFailed"
	CodeSyncFailed           = "syncFailed"
	CodeUnexpectedException  = "unexpectedException"
)

// Unit is the value type of results that carry no payload.
type Unit struct{}

type Step struct {
	Description string
	Resolution  string
	Failed      bool
	Code        string
	Err         error
}

// Result is the outcome of one task. A Result with Code == "" succeeded.
type Result[T any] struct {
	Value      T
	Steps      []Step
	Attributes map[string]string
	Code       string
	Err        error
}

func (r Result[T]) Failed() bool { return r.Code != "" }

// AttributeKeys returns the attribute keys in sorted order for rendering.
func (r Result[T]) AttributeKeys() []string {
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Recorder accumulates steps while a task runs. It is not safe for
// concurrent use; each task owns exactly one recorder.
type Recorder[T any] struct {
	steps      []Step
	attributes map[string]string
}

func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{attributes: map[string]string{}}
}

// Begin opens a new step. The step stays open until Succeed or Fail.
func (r *Recorder[T]) Begin(description string) {
	r.steps = append(r.steps, Step{Description: description})
}

func (r *Recorder[T]) Attribute(key, value string) {
	r.attributes[key] = value
}

// Succeed resolves the current step. Begin is implied if no step is open.
func (r *Recorder[T]) Succeed(resolution string) {
	s := r.current()
	s.Resolution = resolution
	s.Failed = false
}

// Fail resolves the current step as the terminal failure of the task.
func (r *Recorder[T]) Fail(code, resolution string, err error) {
	s := r.current()
	s.Resolution = resolution
	s.Failed = true
	s.Code = code
	s.Err = err
}

func (r *Recorder[T]) current() *Step {
	if len(r.steps) == 0 {
		r.steps = append(r.steps, Step{})
	}
	return &r.steps[len(r.steps)-1]
}

func (r *Recorder[T]) Success(value T) Result[T] {
	return Result[T]{
		Value:      value,
		Steps:      r.steps,
		Attributes: r.attributes,
	}
}

// Failure closes the recorder with the given terminal code. Exactly one
// step failure is guaranteed: if the last recorded step did not fail,
// a synthetic failed step is appended.
func (r *Recorder[T]) Failure(code string, err error) Result[T] {
	if n := len(r.steps); n == 0 || !r.steps[n-1].Failed {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		r.steps = append(r.steps, Step{
			Description: "task failed",
			Resolution:  msg,
			Failed:      true,
			Code:        code,
			Err:         err,
		})
	}
	return Result[T]{
		Steps:      r.steps,
		Attributes: r.attributes,
		Code:       code,
		Err:        err,
	}
}
