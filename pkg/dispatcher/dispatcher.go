package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/rs/zerolog"
)

// ErrStopped is reported for actions posted to or pending in a stopped dispatcher
var ErrStopped = errors.New("dispatcher stopped")

// Observer is called around every dispatched action
type Observer func(a action.Action, ctx *action.Context)

type job struct {
	action action.Action
	ctx    *action.Context
	fn     func()
}

// Dispatcher runs actions one at a time, in submission order, on a single
// goroutine. Validation and lock acquisition of one action therefore finish
// before the next action is looked at.
type Dispatcher struct {
	mu      sync.Mutex
	pending []job
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	stopped atomic.Bool

	busy          atomic.Int64
	lastCompleted atomic.Int64

	obsMu sync.RWMutex
	pre   []Observer
	post  []Observer

	logger zerolog.Logger
}

// New creates a dispatcher. Call Start to begin processing.
func New() *Dispatcher {
	return &Dispatcher{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithComponent("dispatcher"),
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	if d.started.CompareAndSwap(false, true) {
		go d.run()
	}
}

// Stop stops the loop. Actions still queued are reported with ErrStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped.Load() {
		d.mu.Unlock()
		return
	}
	d.stopped.Store(true)
	d.mu.Unlock()

	close(d.stopCh)
	if d.started.Load() {
		<-d.doneCh
	} else {
		d.drain()
	}
}

// OnPreAction registers an observer called after validation, before run
func (d *Dispatcher) OnPreAction(obs Observer) {
	d.obsMu.Lock()
	d.pre = append(d.pre, obs)
	d.obsMu.Unlock()
}

// OnPostAction registers an observer called once an action is finished,
// including actions that failed validation.
func (d *Dispatcher) OnPostAction(obs Observer) {
	d.obsMu.Lock()
	d.post = append(d.post, obs)
	d.obsMu.Unlock()
}

// Post queues a for execution and returns at once. A nil ctx gets an
// interface context.
func (d *Dispatcher) Post(a action.Action, ctx *action.Context) *action.Context {
	if ctx == nil {
		ctx = action.NewContext(types.SourceInterface)
	}
	d.enqueue(job{action: a, ctx: ctx})
	return ctx
}

// PostActions queues several actions from one source, preserving their order
func (d *Dispatcher) PostActions(actions []action.Action, source types.ActionSource) []*action.Context {
	ctxs := make([]*action.Context, 0, len(actions))
	for _, a := range actions {
		ctxs = append(ctxs, d.Post(a, action.NewContext(source)))
	}
	return ctxs
}

// PostAndWait queues a and blocks until the dispatcher is done with it. It
// does not wait for the action's asynchronous work. It must not be called
// from the dispatch goroutine; use Execute there.
func (d *Dispatcher) PostAndWait(ctx context.Context, a action.Action, actx *action.Context) error {
	actx = d.Post(a, actx)
	return actx.Wait(ctx)
}

// PostFunc queues an internal job such as filter finalization
func (d *Dispatcher) PostFunc(fn func()) {
	d.enqueue(job{fn: fn})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.Lock()
	if d.stopped.Load() {
		d.mu.Unlock()
		d.reject(j)
		return
	}
	metrics.QueueDepth.Set(float64(d.busy.Add(1)))
	d.pending = append(d.pending, j)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// reject fails a queued action. Internal jobs still run so that filters
// release their locks after shutdown.
func (d *Dispatcher) reject(j job) {
	if j.fn != nil {
		d.handle(j)
		return
	}
	if j.ctx != nil {
		j.ctx.ReportError(ErrStopped)
		j.ctx.ReportDone()
	}
}

// IsBusy reports whether actions are queued or running
func (d *Dispatcher) IsBusy() bool {
	return d.busy.Load() > 0
}

// Pending returns the number of queued and running jobs
func (d *Dispatcher) Pending() int {
	return int(d.busy.Load())
}

// LastCompleted returns when the last action finished, zero if none has
func (d *Dispatcher) LastCompleted() time.Time {
	ns := d.lastCompleted.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for {
		select {
		case <-d.stopCh:
			d.drain()
			return
		default:
		}

		j, ok := d.next()
		if !ok {
			select {
			case <-d.wake:
			case <-d.stopCh:
				d.drain()
				return
			}
			continue
		}

		d.handle(j)
		metrics.QueueDepth.Set(float64(d.busy.Add(-1)))
	}
}

func (d *Dispatcher) next() (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return job{}, false
	}
	j := d.pending[0]
	d.pending[0] = job{}
	d.pending = d.pending[1:]
	return j, true
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	rest := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, j := range rest {
		d.reject(j)
		d.busy.Add(-1)
	}
}

func (d *Dispatcher) handle(j job) {
	if j.fn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().Interface("panic", r).Msg("Dispatched job panicked")
				}
			}()
			j.fn()
		}()
		return
	}
	_ = d.Execute(j.action, j.ctx)
}

// Execute validates and runs a inline on the calling goroutine. Only the
// dispatch goroutine, or code it calls, may use Execute.
func (d *Dispatcher) Execute(a action.Action, ctx *action.Context) error {
	if ctx == nil {
		ctx = action.NewContext(types.SourceInterface)
	}
	logger := log.WithAction(a.Name()).With().
		Str("component", "dispatcher").
		Str("action_id", ctx.ID()).
		Str("source", string(ctx.Source())).
		Logger()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.ActionDuration, a.Name())
		metrics.ActionsTotal.WithLabelValues(a.Name(), string(ctx.Status())).Inc()
		d.lastCompleted.Store(time.Now().UnixNano())
		ctx.ReportDone()
		d.notify(d.postObservers(), a, ctx)
	}()

	if err := guard(func() error { return a.Validate(ctx) }); err != nil {
		err = action.Invalid(a.Name(), err)
		ctx.ReportError(err)
		logger.Warn().Err(err).Str("status", string(ctx.Status())).Msg("Action validation failed")
		return err
	}

	d.notify(d.preObservers(), a, ctx)

	var result *action.Result
	err := guard(func() error {
		var rerr error
		result, rerr = a.Run(ctx)
		return rerr
	})
	if err != nil {
		ctx.ReportError(err)
		logger.Error().Err(err).Msg("Action failed")
		return err
	}

	if result == nil {
		result = action.Completed()
	}
	ctx.ReportResult(result)
	ctx.ReportStatus(types.StatusSuccess)
	logger.Debug().Strs("layers", result.Layers()).Msg("Action completed")
	return nil
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (d *Dispatcher) preObservers() []Observer {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return d.pre
}

func (d *Dispatcher) postObservers() []Observer {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return d.post
}

func (d *Dispatcher) notify(obs []Observer, a action.Action, ctx *action.Context) {
	for _, o := range obs {
		o(a, ctx)
	}
}
