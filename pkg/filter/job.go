package filter

import (
	"context"
	"math"
	"runtime"
	"strconv"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
	"golang.org/x/sync/errgroup"
)

// progressStep is the smallest progress change that is published as an event
const progressStep = 0.01

// Job is the read-only view a body gets of its filter: input blocks captured
// at start, grids, abort checks and progress reporting.
type Job struct {
	filter *Filter
	inputs map[string]*layer.DataBlock
	grids  map[string]types.GridTransform
}

// Input returns the data block of a locked layer as it was when the filter started
func (j *Job) Input(id string) *layer.DataBlock {
	return j.inputs[id]
}

// Grid returns the grid of a locked or created layer
func (j *Job) Grid(id string) types.GridTransform {
	return j.grids[id]
}

// Context is cancelled when abort is raised
func (j *Job) Context() context.Context {
	return j.filter.ctx
}

// CheckAbort reports whether the body should stop and return ErrAborted
func (j *Job) CheckAbort() bool {
	return j.filter.CheckAbort()
}

// ReportProgress records progress in [0,1]. Progress never goes backwards;
// lower values are ignored and values above 1 saturate.
func (j *Job) ReportProgress(p float64) {
	f := j.filter
	if math.IsNaN(p) {
		return
	}
	p = math.Max(0, math.Min(1, p))

	for {
		old := f.progress.Load()
		if p <= math.Float64frombits(old) {
			return
		}
		if f.progress.CompareAndSwap(old, math.Float64bits(p)) {
			break
		}
	}

	if f.cfg.OnProgress != nil {
		f.cfg.OnProgress(p)
	}

	last := math.Float64frombits(f.published.Load())
	if p-last >= progressStep || p == 1 {
		f.published.Store(math.Float64bits(p))
		f.cfg.Publisher.Publish(events.New(events.EventFilterProgress, "Filter progress", map[string]string{
			"filter":     f.cfg.Name,
			"filter_key": f.key,
			"progress":   strconv.FormatFloat(p, 'f', 2, 64),
		}))
	}
}

// Threads returns how many goroutines a body may use for numeric work.
// One hardware thread is always left free.
func (j *Job) Threads() int {
	return Threads()
}

// Threads returns max(1, NumCPU-1)
func Threads() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// ForEachSlice calls fn for every z in [0,n) on at most Threads goroutines.
// It returns ErrAborted once abort is raised and the first error of fn otherwise.
func (j *Job) ForEachSlice(n int, fn func(z int) error) error {
	g, ctx := errgroup.WithContext(j.Context())
	g.SetLimit(j.Threads())

	for z := 0; z < n; z++ {
		z := z
		if j.CheckAbort() {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || j.CheckAbort() {
				return ErrAborted
			}
			return fn(z)
		})
	}

	err := g.Wait()
	if j.CheckAbort() {
		return ErrAborted
	}
	return err
}
