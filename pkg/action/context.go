package action

import (
	"context"
	"sync"

	"github.com/cuemby/stratum/pkg/types"
	"github.com/google/uuid"
)

// Context receives the outcome of one dispatched action
type Context struct {
	id     string
	source types.ActionSource

	mu       sync.Mutex
	status   types.ActionStatus
	err      error
	result   *Result
	messages []string

	done     chan struct{}
	doneOnce sync.Once
}

// NewContext creates a context for an action submitted from source
func NewContext(source types.ActionSource) *Context {
	return &Context{
		id:     uuid.New().String(),
		source: source,
		status: types.StatusPending,
		done:   make(chan struct{}),
	}
}

// ID returns the unique id of this submission
func (c *Context) ID() string {
	return c.id
}

// Source returns where the action was submitted from
func (c *Context) Source() types.ActionSource {
	return c.source
}

// ReportError records err and the status it maps to
func (c *Context) ReportError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.status = StatusFor(err)
}

// ReportStatus records the final status
func (c *Context) ReportStatus(status types.ActionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// ReportResult records the run result
func (c *Context) ReportResult(r *Result) {
	c.mu.Lock()
	c.result = r
	c.mu.Unlock()
}

// ReportMessage appends an informational message
func (c *Context) ReportMessage(msg string) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// ReportDone marks the dispatch of the action as finished
func (c *Context) ReportDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Status returns the reported status
func (c *Context) Status() types.ActionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the reported error
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Result returns the reported result, nil if the action did not run
func (c *Context) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Messages returns the reported messages
func (c *Context) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// Done returns a channel closed once the dispatcher finished with the action
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the dispatcher finished with the action and returns the
// reported error. It does not wait for asynchronous work; use Result().Wait.
func (c *Context) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
