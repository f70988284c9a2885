package manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gridA = types.NewGridTransform(4, 4, 2, types.Point{}, types.Point{1, 1, 1})
	gridB = types.NewGridTransform(8, 8, 4, types.Point{}, types.Point{0.5, 0.5, 1})
)

func insert(t *testing.T, m *Manager, name string, kind types.VolumeType, grid types.GridTransform) *layer.Layer {
	t.Helper()
	l := m.NewLayer(name, kind, grid, types.LiveSandbox)
	require.NoError(t, m.InsertLayer(l))
	return l
}

func TestInsertIntoEmptyManager(t *testing.T) {
	rec := &events.Recorder{}
	m := New(rec)

	l := insert(t, m, "mask", types.VolumeMask, gridA)

	groups := m.Groups(types.LiveSandbox)
	require.Len(t, groups, 1)
	assert.Equal(t, gridA, groups[0].Grid)
	assert.Equal(t, []string{l.ID}, groups[0].Layers)
	assert.Equal(t, l.ID, m.ActiveLayer())
	assert.Equal(t, groups[0].ID, l.GroupID)

	assert.Equal(t, []events.EventType{
		events.EventGroupInserted,
		events.EventLayerInserted,
		events.EventLayersChanged,
		events.EventActiveLayerChanged,
	}, rec.Types())
}

func TestInsertJoinsMatchingGroup(t *testing.T) {
	m := New(nil)

	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	data2 := insert(t, m, "mr", types.VolumeData, gridA)
	other := insert(t, m, "other", types.VolumeData, gridB)

	groups := m.Groups(types.LiveSandbox)
	require.Len(t, groups, 2)
	// New groups go to the front
	assert.Equal(t, []string{other.ID}, groups[0].Layers)
	assert.Equal(t, []string{data2.ID, data.ID, mask.ID}, groups[1].Layers)

	// Only layers that start a group become active
	assert.Equal(t, other.ID, m.ActiveLayer())

	assert.Equal(t, types.IDCount{LayerCount: 4, GroupCount: 2}, m.IDCount())
}

func TestMoveAcrossTypesIsRejected(t *testing.T) {
	rec := &events.Recorder{}
	m := New(rec)
	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	before := m.Groups(types.LiveSandbox)
	rec.Reset()

	err := m.MoveLayerAbove(mask.ID, data.ID)
	assert.True(t, errors.Is(err, types.ErrWrongType))
	err = m.MoveLayerBelow(data.ID, mask.ID)
	assert.True(t, errors.Is(err, types.ErrWrongType))

	assert.Equal(t, before, m.Groups(types.LiveSandbox))
	assert.Empty(t, rec.Events())
}

func TestMoveLayer(t *testing.T) {
	m := New(nil)
	a := insert(t, m, "a", types.VolumeMask, gridA)
	b := insert(t, m, "b", types.VolumeMask, gridA)
	c := insert(t, m, "c", types.VolumeMask, gridA)

	require.NoError(t, m.MoveLayerAbove(a.ID, c.ID))
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, m.LayersInGroup(a.GroupID))

	require.NoError(t, m.MoveLayerBelow(a.ID, b.ID))
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, m.LayersInGroup(a.GroupID))

	assert.Error(t, m.MoveLayerAbove(a.ID, a.ID))
	assert.True(t, errors.Is(m.MoveLayerAbove(a.ID, "missing"), types.ErrLayerNotFound))
}

func TestDeleteSelectedLayers(t *testing.T) {
	m := New(nil)
	front := insert(t, m, "front", types.VolumeMask, gridB)
	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	require.NoError(t, m.SetActiveLayer(mask.ID))

	require.NoError(t, m.SetSelected(data.ID, true))
	require.NoError(t, m.SetSelected(mask.ID, true))

	removed, err := m.DeleteLayers(data.GroupID)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, mask.ID, removed[0].Layer.ID)
	assert.Equal(t, data.ID, removed[1].Layer.ID)

	// Group emptied and removed, active moved to the top of the front group
	groups := m.Groups(types.LiveSandbox)
	require.Len(t, groups, 1)
	assert.Equal(t, front.ID, m.ActiveLayer())

	// Restore in reverse order puts everything back
	for i := len(removed) - 1; i >= 0; i-- {
		r := removed[i]
		restored := layer.New(r.Layer.ID, r.Layer.Name, r.Layer.Kind, r.Layer.Grid, types.LiveSandbox)
		require.NoError(t, m.InsertLayerAt(restored, r.Position))
	}
	groups = m.Groups(types.LiveSandbox)
	require.Len(t, groups, 2)
	assert.Equal(t, data.GroupID, groups[0].ID)
	assert.Equal(t, []string{data.ID, mask.ID}, groups[0].Layers)
}

func TestDeleteLayersIsAllOrNothing(t *testing.T) {
	m := New(nil)
	a := insert(t, m, "a", types.VolumeMask, gridA)
	b := insert(t, m, "b", types.VolumeMask, gridA)
	require.NoError(t, m.SetSelected(a.ID, true))
	require.NoError(t, m.SetSelected(b.ID, true))
	require.NoError(t, m.LockForUse(b.ID, types.LiveSandbox, "reader"))

	_, err := m.DeleteLayers(a.GroupID)
	assert.True(t, errors.Is(err, types.ErrLayerUnavailable))
	assert.Equal(t, []string{a.ID, b.ID}, m.LayersInGroup(a.GroupID))
}

func TestDeleteLastLayerClearsActive(t *testing.T) {
	m := New(nil)
	l := insert(t, m, "only", types.VolumeMask, gridA)

	_, err := m.DeleteLayer(l.ID, "")
	require.NoError(t, err)
	assert.Empty(t, m.ActiveLayer())
	assert.Empty(t, m.Groups(types.LiveSandbox))

	_, err = m.GetLayer(l.ID, types.LiveSandbox)
	assert.True(t, errors.Is(err, types.ErrLayerNotFound))
}

func TestLockingProtocol(t *testing.T) {
	m := New(nil)
	l := insert(t, m, "ct", types.VolumeData, gridA)

	require.NoError(t, m.LockForUse(l.ID, types.LiveSandbox, "y"))
	assert.NoError(t, m.CheckAvailabilityForUse(l.ID, types.LiveSandbox))

	// A layer held InUse is not available for exclusive processing
	err := m.CheckAvailabilityForProcessing(l.ID, types.LiveSandbox)
	assert.True(t, errors.Is(err, types.ErrLayerUnavailable))
	err = m.LockForProcessing(l.ID, types.LiveSandbox, "x")
	assert.True(t, errors.Is(err, types.ErrLayerUnavailable))

	require.NoError(t, m.Unlock(l.ID, "y"))
	require.NoError(t, m.LockForProcessing(l.ID, types.LiveSandbox, "x"))
	state, err := m.LockState(l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LockProcessing, state)

	assert.Error(t, m.LockForUse(l.ID, types.LiveSandbox, "y"))
	assert.Error(t, m.Unlock(l.ID, "y"))
	require.NoError(t, m.Unlock(l.ID, "x"))
}

func TestInstallDataRequiresProcessingLock(t *testing.T) {
	rec := &events.Recorder{}
	m := New(rec)
	l := insert(t, m, "ct", types.VolumeData, gridA)

	block, err := layer.NewFilledBlock(gridA.Dims, 1)
	require.NoError(t, err)

	assert.True(t, errors.Is(m.InstallData(l.ID, block, "k"), types.ErrLayerUnavailable))
	assert.Equal(t, uint64(0), l.Generation())

	require.NoError(t, m.LockForProcessing(l.ID, types.LiveSandbox, "k"))
	wrong, err := layer.NewFilledBlock([3]int{1, 1, 1}, 1)
	require.NoError(t, err)
	assert.True(t, errors.Is(m.InstallData(l.ID, wrong, "k"), types.ErrGridMismatch))

	rec.Reset()
	require.NoError(t, m.InstallData(l.ID, block, "k"))
	assert.Equal(t, uint64(1), l.Generation())
	assert.Equal(t, []events.EventType{events.EventLayerDataChanged}, rec.Types())
}

func TestCreateAndLockAndUnlockOrDelete(t *testing.T) {
	m := New(nil)

	l, err := m.CreateAndLockLayer(types.VolumeMask, gridA, "out", types.LiveSandbox, "k")
	require.NoError(t, err)
	state, _ := m.LockState(l.ID)
	assert.Equal(t, types.LockProcessing, state)

	// No data installed: the layer disappears
	require.NoError(t, m.UnlockOrDelete(l.ID, "k"))
	assert.Error(t, m.CheckLayerExistence(l.ID, types.LiveSandbox))

	l2, err := m.CreateAndLockLayer(types.VolumeMask, gridA, "out", types.LiveSandbox, "k")
	require.NoError(t, err)
	block, _ := layer.NewFilledBlock(gridA.Dims, 1)
	require.NoError(t, m.InstallData(l2.ID, block, "k"))
	require.NoError(t, m.UnlockOrDelete(l2.ID, "k"))
	state, _ = m.LockState(l2.ID)
	assert.Equal(t, types.LockAvailable, state)
}

func TestAtMostOneSandbox(t *testing.T) {
	rec := &events.Recorder{}
	m := New(rec)

	require.NoError(t, m.CreateSandbox(types.ReplaySandbox))
	assert.True(t, m.IsSandbox(types.ReplaySandbox))
	rec.Reset()

	err := m.CreateSandbox(types.ReplaySandbox)
	assert.True(t, errors.Is(err, types.ErrSandboxExists))
	err = m.CreateSandbox(1)
	assert.True(t, errors.Is(err, types.ErrSandboxExists))
	assert.Equal(t, []types.SandboxID{types.ReplaySandbox}, m.Sandboxes())
	assert.Empty(t, rec.Events())

	require.NoError(t, m.DeleteSandbox(types.ReplaySandbox))
	assert.False(t, m.IsSandbox(types.ReplaySandbox))
	assert.True(t, errors.Is(m.DeleteSandbox(types.ReplaySandbox), types.ErrSandboxNotFound))
	assert.Error(t, m.CreateSandbox(types.LiveSandbox))
}

func TestSandboxIsolation(t *testing.T) {
	m := New(nil)
	live := insert(t, m, "ct", types.VolumeData, gridA)
	require.NoError(t, m.CreateSandbox(types.ReplaySandbox))

	sl := m.NewLayer("tmp", types.VolumeMask, gridA, types.ReplaySandbox)
	require.NoError(t, m.InsertLayer(sl))

	// Live lookups never see sandbox layers
	_, err := m.GetLayer(sl.ID, types.LiveSandbox)
	assert.True(t, errors.Is(err, types.ErrLayerNotFound))
	_, err = m.GetLayer(sl.ID, types.ReplaySandbox)
	assert.NoError(t, err)

	// Sandbox lookups fall back to live layers
	_, err = m.GetLayer(live.ID, types.ReplaySandbox)
	assert.NoError(t, err)

	// Sandbox layers never become active and don't show in the scene
	assert.Equal(t, live.ID, m.ActiveLayer())
	assert.Len(t, m.ComposeLayerScene(0), 1)

	_, err = m.GetLayer(live.ID, 3)
	assert.True(t, errors.Is(err, types.ErrSandboxNotFound))
}

type abortSpy struct{ raised int }

func (a *abortSpy) RaiseAbort() { a.raised++ }

func TestDeleteSandboxAbortsFilters(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.CreateSandbox(types.ReplaySandbox))
	l, err := m.CreateAndLockLayer(types.VolumeMask, gridA, "tmp", types.ReplaySandbox, "k")
	require.NoError(t, err)

	spy := &abortSpy{}
	require.NoError(t, m.SetAbortHandle(l.ID, spy))
	require.NoError(t, m.DeleteSandbox(types.ReplaySandbox))
	assert.Equal(t, 1, spy.raised)

	// The filter's late unlock finds nothing
	assert.True(t, errors.Is(m.Unlock(l.ID, "k"), types.ErrLayerNotFound))
}

func TestMigrateSandboxLayer(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.CreateSandbox(types.ReplaySandbox))
	sl := m.NewLayer("tmp", types.VolumeMask, gridA, types.ReplaySandbox)
	require.NoError(t, m.InsertLayer(sl))

	require.NoError(t, m.MigrateSandboxLayer(sl.ID, types.ReplaySandbox, 17, "Recreated_Provenance_ID_17"))

	got, err := m.GetLayer(sl.ID, types.LiveSandbox)
	require.NoError(t, err)
	assert.Equal(t, types.LiveSandbox, got.Sandbox)
	assert.Equal(t, "Recreated_Provenance_ID_17", got.Name)
	found, ok := m.FindByProvenance(17, types.LiveSandbox)
	require.True(t, ok)
	assert.Equal(t, sl.ID, found.ID)
	assert.Equal(t, sl.ID, m.ActiveLayer())
}

func TestAbortLayer(t *testing.T) {
	m := New(nil)
	l := insert(t, m, "ct", types.VolumeData, gridA)
	assert.False(t, m.AbortLayer(l.ID))

	spy := &abortSpy{}
	require.NoError(t, m.SetAbortHandle(l.ID, spy))
	assert.True(t, m.AbortLayer(l.ID))
	assert.Equal(t, 1, spy.raised)
}

func TestValidationHelpers(t *testing.T) {
	m := New(nil)
	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	other := insert(t, m, "other", types.VolumeMask, gridB)

	assert.NoError(t, m.CheckLayerExistenceAndType(data.ID, types.VolumeData, types.LiveSandbox))
	assert.True(t, errors.Is(m.CheckLayerExistenceAndType(mask.ID, types.VolumeData, types.LiveSandbox), types.ErrWrongType))
	assert.NoError(t, m.CheckLayerSize(data.ID, mask.ID, types.LiveSandbox))
	assert.True(t, errors.Is(m.CheckLayerSize(data.ID, other.ID, types.LiveSandbox), types.ErrGridMismatch))
	assert.True(t, errors.Is(m.CheckSandbox(0), types.ErrSandboxNotFound))
}

func TestSnapshots(t *testing.T) {
	m := New(nil)
	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	insert(t, m, "big", types.VolumeData, gridB)
	require.NoError(t, m.SetVisible(mask.ID, 1, false))

	assert.Len(t, m.ComposeLayerScene(0), 3)
	scene := m.ComposeLayerScene(1)
	require.Len(t, scene, 2)
	assert.Equal(t, data.ID, scene[0].ID)

	names := m.LayerNames(types.VolumeMask)
	require.Len(t, names, 1)
	assert.Equal(t, LayerName{ID: mask.ID, Name: "mask"}, names[0])
	assert.Len(t, m.LayerNames(types.VolumeAll), 3)

	box := m.LayersBBox()
	require.True(t, box.Valid)
	assert.Equal(t, types.Point{3.5, 3.5, 3}, box.Max)

	st := m.Snapshot()
	assert.Equal(t, 2, st.Groups)
	assert.Equal(t, 3, st.Layers)
	assert.Equal(t, 3, st.ByState[types.LockAvailable])
	assert.Equal(t, 2, st.ByKind[types.VolumeData])
}

func TestLayerTree(t *testing.T) {
	m := New(nil)
	data := insert(t, m, "ct", types.VolumeData, gridA)
	mask := insert(t, m, "mask", types.VolumeMask, gridA)
	big := insert(t, m, "big", types.VolumeData, gridB)

	block, err := layer.NewFilledBlock(gridA.Dims, 1)
	require.NoError(t, err)
	require.NoError(t, m.LockForProcessing(data.ID, types.LiveSandbox, "k"))
	require.NoError(t, m.InstallData(data.ID, block, "k"))
	require.NoError(t, m.LockForUse(mask.ID, types.LiveSandbox, "u"))

	tree, err := m.LayerTree(types.LiveSandbox)
	require.NoError(t, err)
	require.Len(t, tree, 2)

	assert.Equal(t, big.GroupID, tree[0].ID)
	require.Len(t, tree[0].Layers, 1)
	assert.True(t, tree[0].Layers[0].Active)

	assert.Equal(t, gridA, tree[1].Grid)
	assert.Equal(t, []LayerInfo{
		{ID: data.ID, Name: "ct", Kind: types.VolumeData, State: types.LockProcessing,
			ProvenanceID: types.InvalidProvenanceID, Generation: 1},
		{ID: mask.ID, Name: "mask", Kind: types.VolumeMask, State: types.LockInUse,
			ProvenanceID: types.InvalidProvenanceID},
	}, tree[1].Layers)

	// The scene carries the data installed after insertion
	scene := m.ComposeLayerScene(0)
	require.Len(t, scene, 3)
	for _, sl := range scene {
		if sl.ID == data.ID {
			assert.Equal(t, uint64(1), sl.Generation)
			assert.True(t, block.Equal(sl.Data))
		}
	}

	_, err = m.LayerTree(types.ReplaySandbox)
	assert.ErrorIs(t, err, types.ErrSandboxNotFound)
}

// reentrantPublisher calls back into the manager from Publish, which would
// deadlock if events were published with the mutex held.
type reentrantPublisher struct {
	m      *Manager
	active []string
}

func (p *reentrantPublisher) Publish(e *events.Event) {
	if e.Type == events.EventActiveLayerChanged {
		p.active = append(p.active, p.m.ActiveLayer())
	}
}

func TestEventsPublishedAfterUnlock(t *testing.T) {
	p := &reentrantPublisher{}
	m := New(p)
	p.m = m

	l := insert(t, m, "ct", types.VolumeData, gridA)
	assert.Equal(t, []string{l.ID}, p.active)
}

func TestIDCountRestore(t *testing.T) {
	m := New(nil)
	saved := m.IDCount()
	first := insert(t, m, "a", types.VolumeMask, gridA)
	_, err := m.DeleteLayer(first.ID, "")
	require.NoError(t, err)

	m.SetIDCount(saved)
	again := insert(t, m, "a", types.VolumeMask, gridA)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.GroupID, again.GroupID)

	m.SetIDCount(types.InvalidIDCount)
	assert.Equal(t, types.IDCount{LayerCount: 1, GroupCount: 1}, m.IDCount())

	p1 := m.NewProvenanceID()
	m.EnsureProvenanceCounter(10)
	assert.Equal(t, types.ProvenanceID(11), m.NewProvenanceID())
	assert.Equal(t, types.ProvenanceID(1), p1)
}

func TestRestoredCountersSkipRegisteredIDs(t *testing.T) {
	m := New(nil)
	saved := m.IDCount()
	a := insert(t, m, "a", types.VolumeData, gridA)
	b := insert(t, m, "b", types.VolumeData, gridB)

	m.SetIDCount(saved)
	c := insert(t, m, "c", types.VolumeData, gridA)
	assert.NotEqual(t, a.ID, c.ID)
	assert.NotEqual(t, b.ID, c.ID)

	created, err := m.CreateAndLockLayer(types.VolumeMask, types.NewGridTransform(2, 2, 2, types.Point{}, types.Point{1, 1, 1}),
		"d", types.LiveSandbox, "k")
	require.NoError(t, err)
	assert.NotContains(t, []string{a.ID, b.ID, c.ID}, created.ID)
	assert.NotContains(t, []string{a.GroupID, b.GroupID}, created.GroupID)

	m.SetIDCount(saved)
	dup, err := m.DuplicateLayer(a.ID, types.LiveSandbox, "copy")
	require.NoError(t, err)
	assert.NotContains(t, []string{a.ID, b.ID, c.ID, created.ID}, dup.ID)

	got, err := m.GetLayer(a.ID, types.LiveSandbox)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Len(t, m.LayersInGroup(a.GroupID), 3)
}

func TestRestoreCheckpoint(t *testing.T) {
	rec := &events.Recorder{}
	m := New(rec)
	l := insert(t, m, "ct", types.VolumeData, gridA)

	first, err := layer.NewFilledBlock(gridA.Dims, 1)
	require.NoError(t, err)
	l.Install(first)
	l.SetProvenanceID(3)
	cp := layer.NewCheckpoint(l)

	second, err := layer.NewFilledBlock(gridA.Dims, 2)
	require.NoError(t, err)
	l.Install(second)
	l.SetProvenanceID(4)

	// Held layers are not restored
	require.NoError(t, m.LockForUse(l.ID, types.LiveSandbox, "reader"))
	err = m.RestoreCheckpoint(cp)
	assert.True(t, errors.Is(err, types.ErrLayerUnavailable))
	require.NoError(t, m.Unlock(l.ID, "reader"))

	rec.Reset()
	require.NoError(t, m.RestoreCheckpoint(cp))
	assert.True(t, l.Data().Equal(first))
	assert.Equal(t, types.ProvenanceID(3), l.ProvenanceID())
	assert.Equal(t, []events.EventType{events.EventLayerDataChanged}, rec.Types())

	m.DeleteAll()
	err = m.RestoreCheckpoint(cp)
	assert.True(t, errors.Is(err, types.ErrLayerNotFound))
}

func TestDuplicateLayer(t *testing.T) {
	m := New(nil)
	src := insert(t, m, "ct", types.VolumeData, gridA)
	block, err := layer.NewFilledBlock(gridA.Dims, 7)
	require.NoError(t, err)
	src.Install(block)
	src.SetProvenanceID(11)

	dup, err := m.DuplicateLayer(src.ID, types.LiveSandbox, "")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "ct", dup.Name)
	assert.Equal(t, types.ProvenanceID(11), dup.ProvenanceID())
	assert.True(t, dup.Data().Equal(block))
	assert.Equal(t, src.GroupID, dup.GroupID)

	// Live layers can be copied into a sandbox
	require.NoError(t, m.CreateSandbox(types.ReplaySandbox))
	boxed, err := m.DuplicateLayer(src.ID, types.ReplaySandbox, "copy")
	require.NoError(t, err)
	assert.Equal(t, types.ReplaySandbox, boxed.Sandbox)
	_, err = m.GetLayer(boxed.ID, types.LiveSandbox)
	assert.True(t, errors.Is(err, types.ErrLayerNotFound))

	require.NoError(t, m.LockForProcessing(src.ID, types.LiveSandbox, "writer"))
	_, err = m.DuplicateLayer(src.ID, types.LiveSandbox, "")
	assert.True(t, errors.Is(err, types.ErrLayerUnavailable))
}

func TestSnapshotsAlongsideDataWrites(t *testing.T) {
	m := New(nil)
	src := insert(t, m, "ct", types.VolumeData, gridA)
	block, err := layer.NewFilledBlock(gridA.Dims, 1)
	require.NoError(t, err)
	src.Install(block)

	const rounds = 100
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			b, err := layer.NewFilledBlock(gridA.Dims, float32(i))
			if assert.NoError(t, err) {
				src.Install(b)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			for _, sl := range m.ComposeLayerScene(0) {
				if sl.Data != nil {
					assert.Equal(t, gridA.Dims, sl.Data.Dims)
				}
			}
			_, err := m.LayerTree(types.LiveSandbox)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := m.DuplicateLayer(src.ID, types.LiveSandbox, "")
			if err != nil {
				// a concurrent install bumps the generation
				assert.True(t, errors.Is(err, types.ErrLayerUnavailable), err.Error())
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			l, err := m.CreateAndLockLayer(types.VolumeMask, gridA, "out", types.LiveSandbox, "k")
			if assert.NoError(t, err) {
				assert.NoError(t, m.UnlockOrDelete(l.ID, "k"))
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("registry and data locks deadlocked")
	}

	_, err = m.GetLayer(src.ID, types.LiveSandbox)
	assert.NoError(t, err)
}
