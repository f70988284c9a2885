package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/storage"
	"github.com/cuemby/stratum/pkg/types"
)

// SaveProject writes the live layers, the engine counters and the undo
// buffer to the store. It runs between two dispatched actions so the saved
// state is consistent.
func (e *Engine) SaveProject(ctx context.Context) error {
	return e.onDispatcher(ctx, e.saveProject)
}

func (e *Engine) saveProject() error {
	if err := e.store.ClearLayers(); err != nil {
		return fmt.Errorf("failed to clear layer catalog: %w", err)
	}

	now := time.Now()
	saved := 0
	for gi, g := range e.layers.Groups(types.LiveSandbox) {
		li := 0
		for _, id := range g.Layers {
			l, err := e.layers.GetLayer(id, types.LiveSandbox)
			if err != nil || !l.HasData() {
				// Outputs of running filters have nothing to save yet
				continue
			}
			if err := e.store.SaveCheckpoint(storage.CatalogKey(id), layer.NewCheckpoint(l)); err != nil {
				return fmt.Errorf("failed to save layer %s: %w", id, err)
			}
			rec := &storage.LayerRecord{
				ID:           l.ID,
				Name:         l.Name,
				Kind:         l.Kind,
				Grid:         l.Grid,
				GroupIndex:   gi,
				LayerIndex:   li,
				ProvenanceID: l.ProvenanceID(),
				Opacity:      l.Opacity,
				Color:        l.Color,
				Generation:   l.Generation(),
				SavedAt:      now,
			}
			if err := e.store.SaveLayer(rec); err != nil {
				return fmt.Errorf("failed to save layer %s: %w", id, err)
			}
			li++
			saved++
		}
	}

	state := &storage.EngineState{
		IDCount:         e.layers.IDCount(),
		ProvenanceCount: e.layers.ProvenanceCount(),
		ActiveLayer:     e.layers.ActiveLayer(),
		SavedAt:         now,
	}
	if err := e.store.SaveState(state); err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	if err := e.undo.Persist(e.store); err != nil {
		return err
	}

	e.logger.Info().
		Int("layers", saved).
		Int("undo_items", e.undo.NumUndo()).
		Int("redo_items", e.undo.NumRedo()).
		Msg("Project saved")
	return nil
}

// loadProject rebuilds the live layers, counters and undo buffer saved by
// saveProject. It must run before the dispatcher starts.
func (e *Engine) loadProject() error {
	state, err := e.store.GetState()
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Info().Msg("No saved project, starting empty")
		return nil
	}
	if err != nil {
		return err
	}

	recs, err := e.store.ListLayers()
	if err != nil {
		return fmt.Errorf("failed to list layers: %w", err)
	}
	for _, rec := range recs {
		cp, err := e.store.LoadCheckpoint(storage.CatalogKey(rec.ID))
		if err != nil {
			return fmt.Errorf("failed to load layer %s: %w", rec.ID, err)
		}
		l := layer.New(rec.ID, rec.Name, rec.Kind, rec.Grid, types.LiveSandbox)
		l.Opacity = rec.Opacity
		l.Color = rec.Color
		if err := cp.Apply(l); err != nil {
			return fmt.Errorf("failed to restore layer %s: %w", rec.ID, err)
		}
		pos := manager.Position{GroupIndex: rec.GroupIndex, LayerIndex: rec.LayerIndex}
		if err := e.layers.InsertLayerAt(l, pos); err != nil {
			return fmt.Errorf("failed to insert layer %s: %w", rec.ID, err)
		}
	}

	e.layers.SetIDCount(state.IDCount)
	e.layers.EnsureProvenanceCounter(state.ProvenanceCount)
	if state.ActiveLayer != "" {
		if err := e.layers.SetActiveLayer(state.ActiveLayer); err != nil {
			e.logger.Warn().Err(err).Str("layer_id", state.ActiveLayer).Msg("Saved active layer is gone")
		}
	}

	records, err := e.store.LoadUndoRecords()
	if err != nil {
		return fmt.Errorf("failed to load undo records: %w", err)
	}
	if len(records) > 0 {
		if err := e.undo.Load(records, e.store, e.registry); err != nil {
			return err
		}
	}

	e.logger.Info().
		Int("layers", len(recs)).
		Int("undo_items", e.undo.NumUndo()).
		Str("active_layer", e.layers.ActiveLayer()).
		Msg("Project restored")
	return nil
}
