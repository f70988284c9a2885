package filter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAborted is the outcome of a filter stopped by its abort flag. It is not a failure.
var ErrAborted = errors.New("processing was aborted")

// FilterError is the outcome of a filter whose computation failed
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filter, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

// Layers is the part of the layer manager a filter needs
type Layers interface {
	GetLayer(id string, sandbox types.SandboxID) (*layer.Layer, error)
	LockForUse(id string, sandbox types.SandboxID, key string) error
	LockForProcessing(id string, sandbox types.SandboxID, key string) error
	CreateAndLockLayer(kind types.VolumeType, grid types.GridTransform, name string, sandbox types.SandboxID, key string) (*layer.Layer, error)
	Unlock(id string, key string) error
	UnlockOrDelete(id string, key string) error
	DeleteLayer(id string, key string) (manager.Removed, error)
	InstallData(id string, block *layer.DataBlock, key string) error
	SetAbortHandle(id string, h layer.AbortHandle) error
}

// Poster queues finalization on the dispatch goroutine
type Poster interface {
	PostFunc(fn func())
}

// StepRemover retracts the provenance step of a filter that did not succeed
type StepRemover interface {
	Remove(id types.ProvenanceStepID) bool
}

// Output maps output layer ids to their computed blocks
type Output map[string]*layer.DataBlock

// Body is the numeric computation of a filter. It returns ErrAborted when it
// notices the abort flag and any other error on failure.
type Body func(job *Job) (Output, error)

// Config configures a new filter
type Config struct {
	Name       string
	Sandbox    types.SandboxID
	Layers     Layers
	Dispatcher Poster
	Provenance StepRemover
	Publisher  events.Publisher
	OnProgress func(progress float64)
	// OnFinish is called on the dispatch goroutine once locks are released
	OnFinish func(err error)
}

// Filter owns the locks of one running computation. Locks are taken on the
// dispatch goroutine inside an action's Run, the body runs on its own
// goroutine, and finalization is posted back to the dispatch goroutine.
type Filter struct {
	key     string
	cfg     Config
	logger  zerolog.Logger
	started bool

	// Touched only on the dispatch goroutine before Start
	locked     []string
	processing map[string]bool
	created    []string
	replaced   map[string]bool
	stepID     types.ProvenanceStepID

	abort     atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	progress  atomic.Uint64
	published atomic.Uint64

	timer        *metrics.Timer
	computeDone  chan struct{}
	output       Output
	computeErr   error
	finalizeOnce sync.Once
	finished     chan struct{}
	outcome      error
	result       *action.Result
}

// New creates a filter with a fresh key
func New(cfg Config) *Filter {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard{}
	}
	key := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Filter{
		key:         key,
		cfg:         cfg,
		logger:      log.WithFilterKey(key).With().Str("filter", cfg.Name).Logger(),
		processing:  make(map[string]bool),
		replaced:    make(map[string]bool),
		stepID:      types.InvalidStepID,
		ctx:         ctx,
		cancel:      cancel,
		computeDone: make(chan struct{}),
		finished:    make(chan struct{}),
	}
}

// Key returns the lock key of the filter
func (f *Filter) Key() string {
	return f.key
}

// Name returns the filter name
func (f *Filter) Name() string {
	return f.cfg.Name
}

// LockForUse takes a shared lock on an input layer
func (f *Filter) LockForUse(id string) error {
	if err := f.cfg.Layers.LockForUse(id, f.cfg.Sandbox, f.key); err != nil {
		return err
	}
	f.locked = append(f.locked, id)
	return nil
}

// LockForProcessing takes the exclusive lock on a layer the filter rewrites in place
func (f *Filter) LockForProcessing(id string) error {
	if err := f.cfg.Layers.LockForProcessing(id, f.cfg.Sandbox, f.key); err != nil {
		return err
	}
	f.locked = append(f.locked, id)
	f.processing[id] = true
	return nil
}

// ReplaceOnSuccess marks a processing-locked input for deletion when the filter succeeds
func (f *Filter) ReplaceOnSuccess(id string) error {
	if !f.processing[id] {
		return fmt.Errorf("%w: %s is not processed by filter %s", types.ErrLayerUnavailable, id, f.cfg.Name)
	}
	f.replaced[id] = true
	return nil
}

// CreateAndLockLayer creates an output layer held by the filter
func (f *Filter) CreateAndLockLayer(kind types.VolumeType, grid types.GridTransform, name string) (*layer.Layer, error) {
	l, err := f.cfg.Layers.CreateAndLockLayer(kind, grid, name, f.cfg.Sandbox, f.key)
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, l.ID)
	f.processing[l.ID] = true
	return l, nil
}

// CreatedLayers returns the ids of layers created by the filter
func (f *Filter) CreatedLayers() []string {
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

// SetProvenanceStep records the step to retract if the filter does not succeed
func (f *Filter) SetProvenanceStep(id types.ProvenanceStepID) {
	f.stepID = id
}

// RaiseAbort asks the body to stop at its next abort check. Safe from any goroutine.
func (f *Filter) RaiseAbort() {
	if f.abort.CompareAndSwap(false, true) {
		f.cancel()
		f.logger.Debug().Msg("Abort raised")
	}
}

// CheckAbort reports whether abort was raised
func (f *Filter) CheckAbort() bool {
	return f.abort.Load()
}

// Progress returns the last reported progress in [0,1]
func (f *Filter) Progress() float64 {
	return math.Float64frombits(f.progress.Load())
}

// Start snapshots the inputs and runs body on its own goroutine. The returned
// result completes after finalization with nil, ErrAborted or a *FilterError.
func (f *Filter) Start(body Body) *action.Result {
	f.started = true
	f.result = action.NewResult(f.CreatedLayers()...)

	inputs := make(map[string]*layer.DataBlock, len(f.locked))
	grids := make(map[string]types.GridTransform, len(f.locked)+len(f.created))
	for _, id := range append(append([]string{}, f.locked...), f.created...) {
		l, err := f.cfg.Layers.GetLayer(id, f.cfg.Sandbox)
		if err != nil {
			continue
		}
		inputs[id] = l.Data()
		grids[id] = l.Grid
		if f.processing[id] {
			_ = f.cfg.Layers.SetAbortHandle(id, f)
		}
	}

	job := &Job{filter: f, inputs: inputs, grids: grids}
	f.timer = metrics.NewTimer()
	metrics.FiltersRunning.Inc()
	f.logger.Debug().Strs("locked", f.locked).Strs("created", f.created).Msg("Filter started")

	go func() {
		out, err := f.runBody(body, job)
		f.output, f.computeErr = out, err
		metrics.FiltersRunning.Dec()
		close(f.computeDone)

		if f.cfg.Dispatcher != nil {
			f.cfg.Dispatcher.PostFunc(f.finalize)
		} else {
			f.finalize()
		}
	}()
	return f.result
}

func (f *Filter) runBody(body Body, job *Job) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return body(job)
}

// Release drops every lock and created layer without running a body. Used
// when an action fails after taking some of its locks.
func (f *Filter) Release() {
	f.RaiseAbort()
	f.finalize()
}

// AbortAndWait raises abort, waits for the body to return and finalizes on
// the calling goroutine. Must be called on the dispatch goroutine.
func (f *Filter) AbortAndWait() {
	f.RaiseAbort()
	if f.started {
		<-f.computeDone
	}
	f.finalize()
}

// Wait blocks until the filter is finalized and returns its outcome
func (f *Filter) Wait(ctx context.Context) error {
	select {
	case <-f.finished:
		return f.outcome
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed after finalization
func (f *Filter) Done() <-chan struct{} {
	return f.finished
}

func (f *Filter) finalize() {
	f.finalizeOnce.Do(f.doFinalize)
}

func (f *Filter) doFinalize() {
	var outcome error
	switch {
	case f.abort.Load() || errors.Is(f.computeErr, ErrAborted):
		outcome = ErrAborted
	case f.computeErr != nil:
		outcome = &FilterError{Filter: f.cfg.Name, Err: f.computeErr}
	default:
		if err := f.install(); err != nil {
			outcome = &FilterError{Filter: f.cfg.Name, Err: err}
		}
	}
	success := outcome == nil

	// Created outputs first, then inputs
	for _, id := range f.created {
		var err error
		if success {
			err = f.cfg.Layers.UnlockOrDelete(id, f.key)
		} else {
			_, err = f.cfg.Layers.DeleteLayer(id, f.key)
		}
		f.logRelease(id, err)
	}
	for _, id := range f.locked {
		var err error
		if success && f.replaced[id] {
			_, err = f.cfg.Layers.DeleteLayer(id, f.key)
		} else {
			err = f.cfg.Layers.Unlock(id, f.key)
		}
		f.logRelease(id, err)
	}

	if !success && f.stepID != types.InvalidStepID && f.cfg.Provenance != nil {
		f.cfg.Provenance.Remove(f.stepID)
	}

	if f.timer != nil {
		f.timer.ObserveDurationVec(metrics.FilterDuration, f.cfg.Name)
	}
	meta := map[string]string{"filter": f.cfg.Name, "filter_key": f.key}
	switch {
	case success:
		metrics.FiltersTotal.WithLabelValues(f.cfg.Name, "completed").Inc()
		f.logger.Info().Strs("outputs", f.created).Msg("Filter completed")
		f.cfg.Publisher.Publish(events.New(events.EventFilterCompleted, "Filter completed", meta))
	case errors.Is(outcome, ErrAborted):
		metrics.FiltersTotal.WithLabelValues(f.cfg.Name, "aborted").Inc()
		f.logger.Warn().Msg("Filter aborted")
		f.cfg.Publisher.Publish(events.New(events.EventFilterAborted, "Filter aborted", meta))
	default:
		metrics.FiltersTotal.WithLabelValues(f.cfg.Name, "failed").Inc()
		f.logger.Error().Err(outcome).Msg("Filter failed")
		meta["error"] = outcome.Error()
		f.cfg.Publisher.Publish(events.New(events.EventFilterFailed, "Filter failed", meta))
	}

	f.outcome = outcome
	f.cancel()
	if f.cfg.OnFinish != nil {
		f.cfg.OnFinish(outcome)
	}
	if f.result != nil {
		f.result.Complete(outcome)
	}
	close(f.finished)
}

// install checks every output block before installing any of them, so a bad
// output never leaves a partial write.
func (f *Filter) install() error {
	for id, block := range f.output {
		if !f.processing[id] {
			return fmt.Errorf("output %s is not locked for processing", id)
		}
		l, err := f.cfg.Layers.GetLayer(id, f.cfg.Sandbox)
		if err != nil {
			return err
		}
		if block == nil || block.Dims != l.Grid.Dims {
			return fmt.Errorf("%w: output for %s", types.ErrGridMismatch, id)
		}
	}
	// Created outputs first
	for _, id := range f.created {
		if block, ok := f.output[id]; ok {
			if err := f.cfg.Layers.InstallData(id, block, f.key); err != nil {
				return err
			}
		}
	}
	for id, block := range f.output {
		if contains(f.created, id) {
			continue
		}
		if err := f.cfg.Layers.InstallData(id, block, f.key); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) logRelease(id string, err error) {
	if err != nil && !errors.Is(err, types.ErrLayerNotFound) {
		logger := log.WithLayerID(id)
		logger.Warn().Err(err).
			Str("filter", f.cfg.Name).
			Str("filter_key", f.key).
			Msg("Failed to release layer")
	}
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
