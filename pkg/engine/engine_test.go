package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.User = "tester"
	return cfg
}

func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	return e
}

func shutdown(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func run(t *testing.T, e *Engine, command string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	actx, err := e.Run(ctx, command)
	require.NoError(t, err, command)
	require.Equal(t, types.StatusSuccess, actx.Status())
	if r := actx.Result(); r != nil {
		return r.Layers()
	}
	return nil
}

func TestEngineRunsActions(t *testing.T) {
	e := startEngine(t, testConfig(t))
	defer shutdown(t, e)

	base := run(t, e, "CreateLayer name='base' dims='4,4,2' pattern='ramp'")
	require.Equal(t, []string{"layer_1"}, base)
	mask := run(t, e, "Threshold target='layer_1' lower='0.5' upper='1'")
	require.Equal(t, []string{"layer_2"}, mask)

	l, err := e.Layers().GetLayer("layer_2", types.LiveSandbox)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeMask, l.Kind)
	assert.True(t, l.HasData())
	assert.Equal(t, 2, e.Provenance().Len())
	assert.Equal(t, 2, e.Undo().NumUndo())
}

func TestEngineRunRejectsBadCommands(t *testing.T) {
	e := startEngine(t, testConfig(t))
	defer shutdown(t, e)

	ctx := context.Background()
	_, err := e.Run(ctx, "Sharpen target='layer_1'")
	assert.Error(t, err)

	actx, err := e.Run(ctx, "Invert target='layer_9'")
	require.Error(t, err)
	assert.Equal(t, types.StatusInvalid, actx.Status())
}

func TestEnginePublishesActionOutcomes(t *testing.T) {
	e := startEngine(t, testConfig(t))
	defer shutdown(t, e)

	sub := e.Events().Subscribe()
	defer e.Events().Unsubscribe(sub)

	run(t, e, "CreateLayer name='base' dims='2,2,2'")
	_, err := e.Run(context.Background(), "Invert target='layer_9'")
	require.Error(t, err)

	var started, completed, failed bool
	timeout := time.After(5 * time.Second)
	for !(completed && failed) {
		select {
		case ev := <-sub:
			switch ev.Type {
			case events.EventActionStarted:
				// Actions failing validation never start
				assert.Equal(t, "CreateLayer", ev.Metadata["action"])
				assert.Equal(t, string(types.SourceScript), ev.Metadata["source"])
				started = true
			case events.EventActionCompleted:
				assert.Equal(t, "CreateLayer", ev.Metadata["action"])
				assert.True(t, started, "started is published before completed")
				completed = true
			case events.EventActionFailed:
				assert.Equal(t, "Invert", ev.Metadata["action"])
				assert.Equal(t, string(types.StatusInvalid), ev.Metadata["status"])
				assert.NotEmpty(t, ev.Metadata["error"])
				failed = true
			}
		case <-timeout:
			t.Fatalf("missing action events: completed=%v failed=%v", completed, failed)
		}
	}
}

func TestDispatcherHealthMessage(t *testing.T) {
	e := startEngine(t, testConfig(t))
	defer shutdown(t, e)

	healthy, msg := e.dispatcherState()
	assert.True(t, healthy)
	assert.Equal(t, "idle", msg)

	run(t, e, "CreateLayer name='base' dims='2,2,2'")
	require.Eventually(t, func() bool { return !e.Dispatcher().IsBusy() }, 5*time.Second, 10*time.Millisecond)
	_, msg = e.dispatcherState()
	assert.True(t, strings.HasPrefix(msg, "idle, last action at "), msg)
}

func TestEngineRestoresProject(t *testing.T) {
	cfg := testConfig(t)

	e := startEngine(t, cfg)
	run(t, e, "CreateLayer name='base' dims='4,4,2' pattern='ramp'")
	run(t, e, "CreateLayer name='other' dims='3,3,3' value='2'")
	run(t, e, "Threshold target='layer_1' lower='0.5' upper='1'")
	run(t, e, "ActivateLayer layer='layer_1'")

	wantGroups := e.Layers().Groups(types.LiveSandbox)
	want := map[string]*struct {
		name string
		pid  types.ProvenanceID
	}{}
	for _, g := range wantGroups {
		for _, id := range g.Layers {
			l, err := e.Layers().GetLayer(id, types.LiveSandbox)
			require.NoError(t, err)
			want[id] = &struct {
				name string
				pid  types.ProvenanceID
			}{l.Name, l.ProvenanceID()}
		}
	}
	base, err := e.Layers().GetLayer("layer_1", types.LiveSandbox)
	require.NoError(t, err)
	baseData := base.Data()
	idCount := e.Layers().IDCount()
	steps := e.Provenance().Len()
	shutdown(t, e)

	e = startEngine(t, cfg)
	defer shutdown(t, e)

	gotGroups := e.Layers().Groups(types.LiveSandbox)
	require.Len(t, gotGroups, len(wantGroups))
	for i := range wantGroups {
		assert.Equal(t, wantGroups[i].Layers, gotGroups[i].Layers)
		assert.Equal(t, wantGroups[i].Grid, gotGroups[i].Grid)
	}
	for id, w := range want {
		l, err := e.Layers().GetLayer(id, types.LiveSandbox)
		require.NoError(t, err)
		assert.Equal(t, w.name, l.Name)
		assert.Equal(t, w.pid, l.ProvenanceID())
	}
	restored, err := e.Layers().GetLayer("layer_1", types.LiveSandbox)
	require.NoError(t, err)
	assert.True(t, baseData.Equal(restored.Data()))

	assert.Equal(t, "layer_1", e.Layers().ActiveLayer())
	assert.Equal(t, idCount, e.Layers().IDCount())
	assert.Equal(t, steps, e.Provenance().Len())
	assert.Equal(t, 3, e.Undo().NumUndo())
	assert.Equal(t, "Threshold", e.Undo().UndoTag(0))

	// New ids continue after the restored ones
	ids := run(t, e, "CreateLayer name='next' dims='2,2,2'")
	assert.Equal(t, []string{"layer_4"}, ids)
}

func TestEngineUndoAfterRestart(t *testing.T) {
	cfg := testConfig(t)

	e := startEngine(t, cfg)
	run(t, e, "CreateLayer name='base' dims='4,4,2' pattern='ramp'")
	run(t, e, "Invert target='layer_1' replace='true'")
	before, err := e.Layers().GetLayer("layer_1", types.LiveSandbox)
	require.NoError(t, err)
	inverted := before.Data()
	shutdown(t, e)

	e = startEngine(t, cfg)
	defer shutdown(t, e)

	l, err := e.Layers().GetLayer("layer_1", types.LiveSandbox)
	require.NoError(t, err)
	require.True(t, inverted.Equal(l.Data()))
	steps := e.Provenance().Len()

	run(t, e, "Undo")
	l, err = e.Layers().GetLayer("layer_1", types.LiveSandbox)
	require.NoError(t, err)
	assert.False(t, inverted.Equal(l.Data()))
	assert.Equal(t, steps-1, e.Provenance().Len())
	assert.Equal(t, 1, e.Undo().NumRedo())
}

func TestEngineRecreatesFromPersistedProvenance(t *testing.T) {
	cfg := testConfig(t)

	e := startEngine(t, cfg)
	run(t, e, "CreateLayer name='base' dims='4,4,2' pattern='ramp'")
	mask := run(t, e, "Threshold target='layer_1' lower='0.5' upper='1'")
	l, err := e.Layers().GetLayer(mask[0], types.LiveSandbox)
	require.NoError(t, err)
	pid := l.ProvenanceID()
	content := l.Data()
	run(t, e, fmt.Sprintf("DeleteLayers layers='%s'", mask[0]))
	shutdown(t, e)

	e = startEngine(t, cfg)
	defer shutdown(t, e)
	_, ok := e.Layers().FindByProvenance(pid, types.LiveSandbox)
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ids, err := e.Recreate(ctx, pid)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rebuilt, ok := e.Layers().FindByProvenance(pid, types.LiveSandbox)
	require.True(t, ok)
	assert.True(t, content.Equal(rebuilt.Data()))
	assert.Empty(t, e.Layers().Sandboxes())
}

func TestEngineWithoutPersistence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persist = false

	e := startEngine(t, cfg)
	run(t, e, "CreateLayer name='base' dims='2,2,2'")
	shutdown(t, e)

	e = startEngine(t, cfg)
	defer shutdown(t, e)
	assert.Empty(t, e.Layers().Groups(types.LiveSandbox))
	// Provenance lives in its own database and is always kept
	assert.Equal(t, 1, e.Provenance().Len())
}

func TestShutdownWithoutStart(t *testing.T) {
	e, err := New(testConfig(t))
	require.NoError(t, err)
	shutdown(t, e)
	// Second call is a no-op
	shutdown(t, e)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineAutosavesChangedProject(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutosaveInterval = 20 * time.Millisecond
	e := startEngine(t, cfg)
	defer shutdown(t, e)

	require.NotNil(t, e.Autosaver())
	run(t, e, "CreateLayer name='base' dims='2,2,2' value='1'")

	assert.Eventually(t, func() bool {
		records, err := e.store.ListLayers()
		return err == nil && len(records) == 1 && !e.Autosaver().Dirty()
	}, 2*time.Second, 10*time.Millisecond)

	st, err := e.store.GetState()
	require.NoError(t, err)
	assert.Equal(t, e.Layers().IDCount(), st.IDCount)
}

func TestEngineAutosaveDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutosaveInterval = 0
	e := startEngine(t, cfg)
	defer shutdown(t, e)

	assert.Nil(t, e.Autosaver())
}
