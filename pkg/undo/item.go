package undo

import (
	"errors"
	"fmt"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/google/uuid"
)

// lockKey is the key undo uses when it deletes layers
const lockKey = "undo"

// Layers is the part of the layer manager undo needs
type Layers interface {
	RestoreCheckpoint(cp *layer.Checkpoint) error
	DeleteLayer(id string, key string) (manager.Removed, error)
	InsertLayerAt(l *layer.Layer, pos manager.Position) error
	CheckLayerExistence(id string, sandbox types.SandboxID) error
	FindByProvenance(pid types.ProvenanceID, sandbox types.SandboxID) (*layer.Layer, bool)
	SetIDCount(c types.IDCount)
}

// Aborter is a running filter that undo must stop before restoring its inputs
type Aborter interface {
	AbortAndWait()
}

// StepRemover retracts provenance steps of undone actions
type StepRemover interface {
	Remove(id types.ProvenanceStepID) bool
}

// addedLayer is a deleted layer that undo puts back
type addedLayer struct {
	removed    manager.Removed
	checkpoint *layer.Checkpoint
}

// Item restores the state that existed before one action ran. Items are
// built from the pre-run state inside the action's Run and never change once
// inserted into a Buffer.
type Item struct {
	id      string
	tag     string
	redo    action.Action
	restore []*layer.Checkpoint
	remove  []string
	derived []types.ProvenanceID
	add     []addedLayer
	filters []Aborter
	idCount types.IDCount
	steps   []types.ProvenanceStepID
	size    int64
}

// NewItem creates an empty item shown to the user as tag
func NewItem(tag string) *Item {
	return &Item{
		id:      uuid.New().String(),
		tag:     tag,
		idCount: types.InvalidIDCount,
	}
}

// ID returns the item id used to key persisted checkpoints
func (it *Item) ID() string { return it.id }

// Tag returns the user visible description
func (it *Item) Tag() string { return it.tag }

// SetRedoAction sets the action that redo runs again
func (it *Item) SetRedoAction(a action.Action) {
	it.redo = a
}

// RedoAction returns the stored redo action
func (it *Item) RedoAction() action.Action {
	return it.redo
}

// AddLayerToRestore captures the full current content of l
func (it *Item) AddLayerToRestore(l *layer.Layer) {
	it.restore = append(it.restore, layer.NewCheckpoint(l))
}

// AddCheckpoint adds an already captured checkpoint, such as a slice range
func (it *Item) AddCheckpoint(cp *layer.Checkpoint) {
	it.restore = append(it.restore, cp)
}

// AddLayerToDelete records a layer the action creates
func (it *Item) AddLayerToDelete(id string) {
	it.remove = append(it.remove, id)
}

// AddProvenanceToDelete records a live layer the action produces later, such
// as a recreated layer, by the provenance id it will carry
func (it *Item) AddProvenanceToDelete(pid types.ProvenanceID) {
	it.derived = append(it.derived, pid)
}

// AddLayerToAdd records a layer the action deletes, with its position
func (it *Item) AddLayerToAdd(r manager.Removed) {
	it.add = append(it.add, addedLayer{removed: r, checkpoint: layer.NewCheckpoint(r.Layer)})
}

// AddFilterToAbort records a filter started by the action
func (it *Item) AddFilterToAbort(f Aborter) {
	it.filters = append(it.filters, f)
}

// SetIDCount records the numbering counters to restore
func (it *Item) SetIDCount(c types.IDCount) {
	it.idCount = c
}

// AddProvenanceStep records a provenance step to retract
func (it *Item) AddProvenanceStep(id types.ProvenanceStepID) {
	if id != types.InvalidStepID {
		it.steps = append(it.steps, id)
	}
}

// ComputeSize sums the bytes held by the item's checkpoints
func (it *Item) ComputeSize() int64 {
	var size int64
	for _, cp := range it.restore {
		size += cp.SizeBytes()
	}
	for _, a := range it.add {
		size += a.checkpoint.SizeBytes()
	}
	it.size = size
	return size
}

// SizeBytes returns the size computed at insertion
func (it *Item) SizeBytes() int64 {
	return it.size
}

// apply undoes the action: running filters are stopped, content restored,
// created layers deleted, deleted layers put back, then counters and
// provenance rolled back.
func (it *Item) apply(layers Layers, prov StepRemover) error {
	for _, f := range it.filters {
		f.AbortAndWait()
	}
	it.filters = nil

	var errs []error
	for _, cp := range it.restore {
		if err := layers.RestoreCheckpoint(cp); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", cp.LayerID, err))
		}
	}

	for _, id := range it.remove {
		if _, err := layers.DeleteLayer(id, lockKey); err != nil && !errors.Is(err, types.ErrLayerNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}

	for _, pid := range it.derived {
		l, ok := layers.FindByProvenance(pid, types.LiveSandbox)
		if !ok {
			continue
		}
		if _, err := layers.DeleteLayer(l.ID, lockKey); err != nil && !errors.Is(err, types.ErrLayerNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", l.ID, err))
		}
	}

	// Reverse order puts layers back into the slots they were taken from
	for i := len(it.add) - 1; i >= 0; i-- {
		a := it.add[i]
		// A layer the action only meant to delete may still be live
		if layers.CheckLayerExistence(a.removed.Layer.ID, types.LiveSandbox) == nil {
			continue
		}
		l := restoredLayer(a)
		if err := a.checkpoint.Apply(l); err != nil {
			errs = append(errs, fmt.Errorf("recreate %s: %w", l.ID, err))
			continue
		}
		if err := layers.InsertLayerAt(l, a.removed.Position); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", l.ID, err))
		}
	}

	if it.idCount.Valid() {
		layers.SetIDCount(it.idCount)
	}
	if prov != nil {
		for _, id := range it.steps {
			prov.Remove(id)
		}
	}
	return errors.Join(errs...)
}

// restoredLayer builds a fresh, unlocked layer with the identity of a deleted one
func restoredLayer(a addedLayer) *layer.Layer {
	old := a.removed.Layer
	l := layer.New(old.ID, old.Name, old.Kind, old.Grid, types.LiveSandbox)
	l.Opacity = old.Opacity
	l.Color = old.Color
	return l
}
