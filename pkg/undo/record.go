package undo

import (
	"fmt"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
)

// Stack names used in records
const (
	StackUndo = "undo"
	StackRedo = "redo"
)

// Record is the serializable form of an Item. Checkpoint content is stored
// separately under CheckpointKey(ID, layer id).
type Record struct {
	ID              string                   `json:"id"`
	Stack           string                   `json:"stack"`
	Tag             string                   `json:"tag"`
	Redo            string                   `json:"redo,omitempty"`
	Restore         []string                 `json:"restore,omitempty"`
	Delete          []string                 `json:"delete,omitempty"`
	DeleteDerived   []types.ProvenanceID     `json:"delete_derived,omitempty"`
	Add             []AddRecord              `json:"add,omitempty"`
	IDCount         types.IDCount            `json:"id_count"`
	ProvenanceSteps []types.ProvenanceStepID `json:"provenance_steps,omitempty"`
	SizeBytes       int64                    `json:"size_bytes"`
}

// AddRecord describes a deleted layer that undo puts back
type AddRecord struct {
	LayerID  string           `json:"layer_id"`
	Name     string           `json:"name"`
	Kind     types.VolumeType `json:"kind"`
	Position manager.Position `json:"position"`
	Opacity  float64          `json:"opacity"`
	Color    int              `json:"color"`
}

// Store persists undo records and their checkpoints
type Store interface {
	SaveCheckpoint(key string, cp *layer.Checkpoint) error
	SaveUndoRecords(records []Record) error
}

// CheckpointSource loads checkpoints saved by Persist
type CheckpointSource interface {
	LoadCheckpoint(key string) (*layer.Checkpoint, error)
}

// CheckpointKey returns the storage key of a layer's checkpoint within an item
func CheckpointKey(itemID, layerID string) string {
	return itemID + "/" + layerID
}

func (it *Item) record(stack string) Record {
	r := Record{
		ID:              it.id,
		Stack:           stack,
		Tag:             it.tag,
		IDCount:         it.idCount,
		ProvenanceSteps: append([]types.ProvenanceStepID(nil), it.steps...),
		Delete:          append([]string(nil), it.remove...),
		DeleteDerived:   append([]types.ProvenanceID(nil), it.derived...),
		SizeBytes:       it.size,
	}
	if it.redo != nil {
		r.Redo = action.Export(it.redo)
	}
	for _, cp := range it.restore {
		r.Restore = append(r.Restore, cp.LayerID)
	}
	for _, a := range it.add {
		l := a.removed.Layer
		r.Add = append(r.Add, AddRecord{
			LayerID:  l.ID,
			Name:     l.Name,
			Kind:     l.Kind,
			Position: a.removed.Position,
			Opacity:  l.Opacity,
			Color:    l.Color,
		})
	}
	return r
}

// Records returns both stacks, oldest first, undo before redo
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]Record, 0, len(b.undo)+len(b.redo))
	for _, it := range b.undo {
		records = append(records, it.record(StackUndo))
	}
	for _, it := range b.redo {
		records = append(records, it.record(StackRedo))
	}
	return records
}

// Persist writes every checkpoint and then the records to store
func (b *Buffer) Persist(store Store) error {
	b.mu.Lock()
	items := append(append([]*Item(nil), b.undo...), b.redo...)
	b.mu.Unlock()

	for _, it := range items {
		for _, cp := range it.restore {
			if err := store.SaveCheckpoint(CheckpointKey(it.id, cp.LayerID), cp); err != nil {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
		}
		for _, a := range it.add {
			if err := store.SaveCheckpoint(CheckpointKey(it.id, a.removed.Layer.ID), a.checkpoint); err != nil {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
		}
	}

	if err := store.SaveUndoRecords(b.Records()); err != nil {
		return fmt.Errorf("failed to save undo records: %w", err)
	}
	b.logger.Info().Int("items", len(items)).Msg("Undo buffer persisted")
	return nil
}

// Load replaces both stacks with persisted records. Redo commands are
// rebuilt with reg; running filters are not persisted.
func (b *Buffer) Load(records []Record, src CheckpointSource, reg *action.Registry) error {
	var undo, redo []*Item
	for _, r := range records {
		it, err := itemFromRecord(r, src, reg)
		if err != nil {
			return fmt.Errorf("failed to load undo item %s: %w", r.ID, err)
		}
		switch r.Stack {
		case StackUndo:
			undo = append(undo, it)
		case StackRedo:
			redo = append(redo, it)
		default:
			return fmt.Errorf("unknown undo stack %q", r.Stack)
		}
	}

	b.mu.Lock()
	b.undo, b.redo = undo, redo
	b.mu.Unlock()
	b.changed()
	return nil
}

func itemFromRecord(r Record, src CheckpointSource, reg *action.Registry) (*Item, error) {
	it := &Item{
		id:      r.ID,
		tag:     r.Tag,
		idCount: r.IDCount,
		steps:   r.ProvenanceSteps,
		remove:  r.Delete,
		derived: r.DeleteDerived,
	}
	if r.Redo != "" {
		a, err := reg.Parse(r.Redo)
		if err != nil {
			return nil, err
		}
		it.redo = a
	}
	for _, id := range r.Restore {
		cp, err := src.LoadCheckpoint(CheckpointKey(r.ID, id))
		if err != nil {
			return nil, err
		}
		it.restore = append(it.restore, cp)
	}
	for _, a := range r.Add {
		cp, err := src.LoadCheckpoint(CheckpointKey(r.ID, a.LayerID))
		if err != nil {
			return nil, err
		}
		l := layer.New(a.LayerID, a.Name, a.Kind, cp.Grid, types.LiveSandbox)
		l.Opacity = a.Opacity
		l.Color = a.Color
		it.add = append(it.add, addedLayer{
			removed:    manager.Removed{Layer: l, Position: a.Position},
			checkpoint: cp,
		})
	}
	it.ComputeSize()
	return it, nil
}
