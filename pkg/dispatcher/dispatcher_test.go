package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordAction struct {
	name        string
	log         *[]string
	mu          *sync.Mutex
	validateErr error
	runErr      error
	panicOnRun  bool
}

func (a *recordAction) Name() string          { return a.name }
func (a *recordAction) Params() action.Params { return nil }

func (a *recordAction) Validate(*action.Context) error {
	return a.validateErr
}

func (a *recordAction) Run(*action.Context) (*action.Result, error) {
	if a.panicOnRun {
		panic("boom")
	}
	if a.runErr != nil {
		return nil, a.runErr
	}
	a.mu.Lock()
	*a.log = append(*a.log, a.name)
	a.mu.Unlock()
	return action.Completed(a.name), nil
}

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := New()
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestActionsRunInSubmissionOrder(t *testing.T) {
	d := newDispatcher(t)

	var (
		mu  sync.Mutex
		got []string
	)
	var want []string
	var last *action.Context
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("a%d", i)
		want = append(want, name)
		last = d.Post(&recordAction{name: name, log: &got, mu: &mu}, nil)
	}

	require.NoError(t, last.Wait(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestPostAndWait(t *testing.T) {
	d := newDispatcher(t)
	var mu sync.Mutex
	var got []string

	actx := action.NewContext(types.SourceScript)
	err := d.PostAndWait(context.Background(), &recordAction{name: "x", log: &got, mu: &mu}, actx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, actx.Status())
	require.NotNil(t, actx.Result())
	assert.Equal(t, []string{"x"}, actx.Result().LayerIDs)
	assert.False(t, d.LastCompleted().IsZero())
}

func TestValidationFailureNeverRuns(t *testing.T) {
	d := newDispatcher(t)
	var mu sync.Mutex
	var got []string

	var preCalls, postCalls atomic.Int32
	d.OnPreAction(func(action.Action, *action.Context) { preCalls.Add(1) })
	d.OnPostAction(func(action.Action, *action.Context) { postCalls.Add(1) })

	a := &recordAction{name: "x", log: &got, mu: &mu, validateErr: fmt.Errorf("%w: threshold", action.ErrOutOfRange)}
	actx := action.NewContext(types.SourceInterface)
	err := d.PostAndWait(context.Background(), a, actx)

	var ve *action.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, types.StatusInvalid, actx.Status())
	assert.Nil(t, actx.Result())
	assert.Empty(t, got)
	assert.Eventually(t, func() bool { return postCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), preCalls.Load())
}

func TestRunErrorsAndPanics(t *testing.T) {
	d := newDispatcher(t)
	var mu sync.Mutex
	var got []string

	actx := action.NewContext(types.SourceInterface)
	err := d.PostAndWait(context.Background(), &recordAction{name: "x", log: &got, mu: &mu, runErr: errors.New("disk full")}, actx)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, types.StatusError, actx.Status())

	actx = action.NewContext(types.SourceInterface)
	err = d.PostAndWait(context.Background(), &recordAction{name: "y", log: &got, mu: &mu, panicOnRun: true}, actx)
	assert.ErrorContains(t, err, "panic")

	// The loop survives
	actx = action.NewContext(types.SourceInterface)
	require.NoError(t, d.PostAndWait(context.Background(), &recordAction{name: "z", log: &got, mu: &mu}, actx))
}

func TestPostFuncRunsOnDispatchGoroutineInOrder(t *testing.T) {
	d := newDispatcher(t)
	var order []int
	done := make(chan struct{})

	d.PostFunc(func() { order = append(order, 1) })
	d.PostFunc(func() { panic("ignored") })
	d.PostFunc(func() { order = append(order, 2); close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs not run")
	}
	assert.Equal(t, []int{1, 2}, order)
}

func TestStopRejectsPendingActions(t *testing.T) {
	d := New()
	var mu sync.Mutex
	var got []string

	actx := d.Post(&recordAction{name: "x", log: &got, mu: &mu}, nil)
	assert.True(t, d.IsBusy())
	d.Stop()

	assert.True(t, errors.Is(actx.Wait(context.Background()), ErrStopped))
	assert.False(t, d.IsBusy())

	late := d.Post(&recordAction{name: "y", log: &got, mu: &mu}, nil)
	assert.True(t, errors.Is(late.Wait(context.Background()), ErrStopped))
	assert.Empty(t, got)
	d.Stop()
}

func TestPostActions(t *testing.T) {
	d := newDispatcher(t)
	var mu sync.Mutex
	var got []string

	ctxs := d.PostActions([]action.Action{
		&recordAction{name: "a", log: &got, mu: &mu},
		&recordAction{name: "b", log: &got, mu: &mu},
	}, types.SourceScript)
	require.Len(t, ctxs, 2)
	for _, c := range ctxs {
		require.NoError(t, c.Wait(context.Background()))
		assert.Equal(t, types.SourceScript, c.Source())
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

// processAction needs the exclusive lock on its target
type processAction struct {
	mgr    *manager.Manager
	target string
	ran    bool
}

func (a *processAction) Name() string          { return "Process" }
func (a *processAction) Params() action.Params { return action.NewParams("target", a.target) }

func (a *processAction) Validate(*action.Context) error {
	return a.mgr.CheckAvailabilityForProcessing(a.target, types.LiveSandbox)
}

func (a *processAction) Run(*action.Context) (*action.Result, error) {
	a.ran = true
	return action.Completed(a.target), nil
}

func TestExclusiveActionRejectedWhileLayerInUse(t *testing.T) {
	d := newDispatcher(t)
	mgr := manager.New(nil)
	grid := types.NewGridTransform(2, 2, 2, types.Point{}, types.Point{1, 1, 1})
	l := mgr.NewLayer("L", types.VolumeMask, grid, types.LiveSandbox)
	require.NoError(t, mgr.InsertLayer(l))

	// Action Y holds L in use
	require.NoError(t, mgr.LockForUse(l.ID, types.LiveSandbox, "action-y"))

	x := &processAction{mgr: mgr, target: l.ID}
	actx := action.NewContext(types.SourceInterface)
	err := d.PostAndWait(context.Background(), x, actx)

	assert.True(t, errors.Is(err, action.ErrLayerUnavailable))
	assert.Equal(t, types.StatusUnavailable, actx.Status())
	assert.False(t, x.ran)

	state, err := mgr.LockState(l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LockInUse, state)
}

func TestExecuteInline(t *testing.T) {
	d := New()
	var mu sync.Mutex
	var got []string

	actx := action.NewContext(types.SourceUndoBuffer)
	require.NoError(t, d.Execute(&recordAction{name: "inline", log: &got, mu: &mu}, actx))
	assert.Equal(t, []string{"inline"}, got)
	assert.Equal(t, types.StatusSuccess, actx.Status())
	d.Stop()
}
