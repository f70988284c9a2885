package filter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/dispatcher"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grid = types.NewGridTransform(4, 4, 3, types.Point{}, types.Point{1, 1, 1})

type stepSpy struct {
	mu      sync.Mutex
	removed []types.ProvenanceStepID
}

func (s *stepSpy) Remove(id types.ProvenanceStepID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return true
}

func (s *stepSpy) Removed() []types.ProvenanceStepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ProvenanceStepID(nil), s.removed...)
}

type fixture struct {
	mgr  *manager.Manager
	disp *dispatcher.Dispatcher
	rec  *events.Recorder
	prov *stepSpy
	src  *layer.Layer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	mgr := manager.New(rec)
	disp := dispatcher.New()
	disp.Start()
	t.Cleanup(disp.Stop)

	src := mgr.NewLayer("ct", types.VolumeData, grid, types.LiveSandbox)
	require.NoError(t, mgr.InsertLayer(src))
	block, err := layer.NewFilledBlock(grid.Dims, 5)
	require.NoError(t, err)
	src.Install(block)

	return &fixture{mgr: mgr, disp: disp, rec: rec, prov: &stepSpy{}, src: src}
}

func (fx *fixture) newFilter(name string) *Filter {
	return New(Config{
		Name:       name,
		Sandbox:    types.LiveSandbox,
		Layers:     fx.mgr,
		Dispatcher: fx.disp,
		Provenance: fx.prov,
		Publisher:  fx.rec,
	})
}

func waitResult(t *testing.T, f *Filter) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "filter did not finish")
	return err
}

func lockState(t *testing.T, mgr *manager.Manager, id string) types.LockState {
	t.Helper()
	s, err := mgr.LockState(id)
	require.NoError(t, err)
	return s
}

func TestFilterSuccessInstallsOutput(t *testing.T) {
	fx := newFixture(t)
	f := fx.newFilter("Invert")

	require.NoError(t, f.LockForUse(fx.src.ID))
	out, err := f.CreateAndLockLayer(types.VolumeData, grid, "ct_inverted")
	require.NoError(t, err)
	f.SetProvenanceStep(3)
	assert.Equal(t, types.LockInUse, lockState(t, fx.mgr, fx.src.ID))

	result := f.Start(func(job *Job) (Output, error) {
		in := job.Input(fx.src.ID)
		voxels := make([]float32, in.Len())
		for i, v := range in.Voxels {
			voxels[i] = -v
		}
		block, err := layer.NewDataBlock(in.Dims, voxels)
		if err != nil {
			return nil, err
		}
		job.ReportProgress(1)
		return Output{out.ID: block}, nil
	})
	assert.Equal(t, []string{out.ID}, result.LayerIDs)

	require.NoError(t, result.Wait(context.Background()))
	require.NoError(t, waitResult(t, f))

	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, fx.src.ID))
	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, out.ID))
	assert.Equal(t, float32(-5), out.Data().At(0, 0, 0))
	assert.Equal(t, uint64(1), out.Generation())
	assert.Equal(t, 1.0, f.Progress())
	assert.Empty(t, fx.prov.Removed())
	assert.Contains(t, fx.rec.Types(), events.EventFilterCompleted)
}

func TestFilterFailureRestoresLayer(t *testing.T) {
	fx := newFixture(t)
	before := fx.src.Data()
	gen := fx.src.Generation()

	f := fx.newFilter("Smooth")
	require.NoError(t, f.LockForProcessing(fx.src.ID))
	created, err := f.CreateAndLockLayer(types.VolumeMask, grid, "scratch")
	require.NoError(t, err)
	f.SetProvenanceStep(9)

	f.Start(func(job *Job) (Output, error) {
		job.ReportProgress(0.5)
		panic("itk exception")
	})

	err = waitResult(t, f)
	var fe *FilterError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Smooth", fe.Filter)
	assert.False(t, errors.Is(err, ErrAborted))

	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, fx.src.ID))
	assert.Same(t, before, fx.src.Data())
	assert.Equal(t, gen, fx.src.Generation())

	assert.Error(t, fx.mgr.CheckLayerExistence(created.ID, types.LiveSandbox))
	assert.Equal(t, []types.ProvenanceStepID{9}, fx.prov.Removed())
	assert.Contains(t, fx.rec.Types(), events.EventFilterFailed)
}

func TestFilterBadOutputIsNotInstalled(t *testing.T) {
	fx := newFixture(t)
	f := fx.newFilter("Broken")
	require.NoError(t, f.LockForProcessing(fx.src.ID))
	out, err := f.CreateAndLockLayer(types.VolumeMask, grid, "out")
	require.NoError(t, err)

	f.Start(func(job *Job) (Output, error) {
		good, _ := layer.NewFilledBlock(grid.Dims, 1)
		bad, _ := layer.NewFilledBlock([3]int{1, 1, 1}, 1)
		return Output{out.ID: good, fx.src.ID: bad}, nil
	})

	var fe *FilterError
	require.True(t, errors.As(waitResult(t, f), &fe))
	assert.Equal(t, uint64(1), fx.src.Generation())
	assert.Error(t, fx.mgr.CheckLayerExistence(out.ID, types.LiveSandbox))
}

func TestFilterAbort(t *testing.T) {
	fx := newFixture(t)
	f := fx.newFilter("Watershed")
	require.NoError(t, f.LockForUse(fx.src.ID))
	out, err := f.CreateAndLockLayer(types.VolumeMask, grid, "out")
	require.NoError(t, err)
	f.SetProvenanceStep(4)

	started := make(chan struct{})
	result := f.Start(func(job *Job) (Output, error) {
		close(started)
		for !job.CheckAbort() {
			time.Sleep(time.Millisecond)
		}
		return nil, ErrAborted
	})

	<-started
	// Abort through the layer, the way the UI cancels a filter
	assert.True(t, fx.mgr.AbortLayer(out.ID))

	err = result.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrAborted))
	var fe *FilterError
	assert.False(t, errors.As(err, &fe))

	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, fx.src.ID))
	assert.Error(t, fx.mgr.CheckLayerExistence(out.ID, types.LiveSandbox))
	assert.Equal(t, []types.ProvenanceStepID{4}, fx.prov.Removed())
	assert.Contains(t, fx.rec.Types(), events.EventFilterAborted)
}

func TestAbortAndWaitFinalizesInline(t *testing.T) {
	fx := newFixture(t)
	f := New(Config{Name: "Slow", Sandbox: types.LiveSandbox, Layers: fx.mgr, Publisher: fx.rec, Dispatcher: blockedPoster{}})
	require.NoError(t, f.LockForProcessing(fx.src.ID))

	f.Start(func(job *Job) (Output, error) {
		<-job.Context().Done()
		return nil, job.Context().Err()
	})

	// The poster never runs the job; AbortAndWait must not depend on it
	f.AbortAndWait()
	select {
	case <-f.Done():
	default:
		t.Fatal("filter not finalized")
	}
	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, fx.src.ID))

	// Second finalization is a no-op
	f.AbortAndWait()
}

type blockedPoster struct{}

func (blockedPoster) PostFunc(func()) {}

func TestReleaseBeforeStart(t *testing.T) {
	fx := newFixture(t)
	f := fx.newFilter("Crop")
	require.NoError(t, f.LockForUse(fx.src.ID))
	out, err := f.CreateAndLockLayer(types.VolumeData, grid, "out")
	require.NoError(t, err)

	f.Release()
	assert.Equal(t, types.LockAvailable, lockState(t, fx.mgr, fx.src.ID))
	assert.Error(t, fx.mgr.CheckLayerExistence(out.ID, types.LiveSandbox))
	assert.True(t, errors.Is(waitResult(t, f), ErrAborted))
}

func TestReplaceOnSuccessDeletesInput(t *testing.T) {
	fx := newFixture(t)
	f := fx.newFilter("Resample")

	assert.Error(t, f.ReplaceOnSuccess(fx.src.ID))
	require.NoError(t, f.LockForProcessing(fx.src.ID))
	require.NoError(t, f.ReplaceOnSuccess(fx.src.ID))
	out, err := f.CreateAndLockLayer(types.VolumeData, grid, "resampled")
	require.NoError(t, err)

	f.Start(func(job *Job) (Output, error) {
		return Output{out.ID: job.Input(fx.src.ID)}, nil
	})
	require.NoError(t, waitResult(t, f))

	assert.Error(t, fx.mgr.CheckLayerExistence(fx.src.ID, types.LiveSandbox))
	assert.NoError(t, fx.mgr.CheckLayerExistence(out.ID, types.LiveSandbox))
}

func TestProgressIsMonotonic(t *testing.T) {
	var reported []float64
	f := New(Config{Name: "p", OnProgress: func(p float64) { reported = append(reported, p) }})
	job := &Job{filter: f}

	job.ReportProgress(0.2)
	job.ReportProgress(0.1)
	job.ReportProgress(0.6)
	job.ReportProgress(7)
	job.ReportProgress(0.9)

	assert.Equal(t, []float64{0.2, 0.6, 1}, reported)
	assert.Equal(t, 1.0, f.Progress())
}

func TestForEachSlice(t *testing.T) {
	f := New(Config{Name: "slices"})
	job := &Job{filter: f}

	assert.GreaterOrEqual(t, job.Threads(), 1)

	var count atomic.Int32
	require.NoError(t, job.ForEachSlice(20, func(z int) error {
		count.Add(1)
		return nil
	}))
	assert.Equal(t, int32(20), count.Load())

	boom := errors.New("boom")
	err := job.ForEachSlice(5, func(z int) error {
		if z == 2 {
			return boom
		}
		return nil
	})
	assert.True(t, errors.Is(err, boom) || errors.Is(err, ErrAborted))

	f.RaiseAbort()
	err = job.ForEachSlice(5, func(z int) error { return nil })
	assert.True(t, errors.Is(err, ErrAborted))
}
