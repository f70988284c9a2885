package action

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/stratum/pkg/types"
)

// Action is one requested mutation. Validate and Run are only called on the
// dispatcher goroutine, Validate first. Run must return promptly and hand any
// long computation to a filter.
type Action interface {
	Name() string
	Params() Params
	Validate(ctx *Context) error
	Run(ctx *Context) (*Result, error)
}

// Export renders an action as a single command line that Registry.Parse reads back
func Export(a Action) string {
	p := a.Params()
	if len(p) == 0 {
		return a.Name()
	}
	return a.Name() + " " + p.String()
}

// Errors shared with the layer manager
var (
	ErrLayerNotFound    = types.ErrLayerNotFound
	ErrLayerUnavailable = types.ErrLayerUnavailable
	ErrWrongType        = types.ErrWrongType
	ErrOutOfRange       = types.ErrOutOfRange
	ErrInvalidParam     = types.ErrInvalidParam
	ErrSandboxNotFound  = types.ErrSandboxNotFound
	ErrSandboxExists    = types.ErrSandboxExists
	ErrGridMismatch     = types.ErrGridMismatch
)

// ErrUnknownAction is returned by the registry for unregistered names
var ErrUnknownAction = errors.New("unknown action")

// ValidationError is returned when an action fails validation. The action is
// discarded without side effects.
type ValidationError struct {
	Action string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid wraps err as a validation error of action name
func Invalid(name string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &ValidationError{Action: name, Err: err}
}

// StatusFor maps an error to the status reported on the action context.
// Lock contention is reported as Unavailable, other validation failures as
// Invalid and everything else as Error.
func StatusFor(err error) types.ActionStatus {
	var ve *ValidationError
	switch {
	case err == nil:
		return types.StatusSuccess
	case errors.Is(err, ErrLayerUnavailable):
		return types.StatusUnavailable
	case errors.As(err, &ve):
		return types.StatusInvalid
	default:
		return types.StatusError
	}
}

// Result carries the prospective output layer ids of a run and a notifier
// that completes when the asynchronous work behind it finishes.
type Result struct {
	LayerIDs []string

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewResult creates a pending result for the given output layers
func NewResult(layerIDs ...string) *Result {
	return &Result{LayerIDs: layerIDs, done: make(chan struct{})}
}

// Completed creates a result whose work is already done
func Completed(layerIDs ...string) *Result {
	r := NewResult(layerIDs...)
	r.Complete(nil)
	return r
}

// Complete finishes the result. Only the first call has an effect.
func (r *Result) Complete(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

// CompleteWith finishes a result whose output layers were only known once
// the work ran
func (r *Result) CompleteWith(layerIDs []string, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.LayerIDs = layerIDs
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

// Layers returns the output layer ids
func (r *Result) Layers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.LayerIDs))
	copy(out, r.LayerIDs)
	return out
}

// Done returns a channel closed on completion
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err returns the completion error, nil while pending or on success
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the work completes or ctx is done
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
