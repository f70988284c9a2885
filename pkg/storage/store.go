package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// Store defines the interface for engine state that outlives the process
// This is implemented by BoltDB-backed storage
type Store interface {
	// Checkpoints
	SaveCheckpoint(key string, cp *layer.Checkpoint) error
	LoadCheckpoint(key string) (*layer.Checkpoint, error)
	DeleteCheckpoint(key string) error
	ListCheckpoints() ([]string, error)

	// Undo records
	SaveUndoRecords(records []undo.Record) error
	LoadUndoRecords() ([]undo.Record, error)

	// Layer catalog
	SaveLayer(rec *LayerRecord) error
	GetLayer(id string) (*LayerRecord, error)
	ListLayers() ([]*LayerRecord, error)
	DeleteLayer(id string) error
	ClearLayers() error

	// Engine state
	SaveState(st *EngineState) error
	GetState() (*EngineState, error)

	// Utility
	Close() error
}

// LayerRecord is the catalog entry of a saved live layer. Its content is
// stored as a checkpoint under CatalogKey(ID).
type LayerRecord struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Kind         types.VolumeType    `json:"kind"`
	Grid         types.GridTransform `json:"grid"`
	GroupIndex   int                 `json:"group_index"`
	LayerIndex   int                 `json:"layer_index"`
	ProvenanceID types.ProvenanceID  `json:"provenance_id"`
	Opacity      float64             `json:"opacity"`
	Color        int                 `json:"color"`
	Generation   uint64              `json:"generation"`
	SavedAt      time.Time           `json:"saved_at"`
}

// EngineState holds the counters a reloaded session must continue from
type EngineState struct {
	IDCount         types.IDCount      `json:"id_count"`
	ProvenanceCount types.ProvenanceID `json:"provenance_count"`
	ActiveLayer     string             `json:"active_layer,omitempty"`
	SavedAt         time.Time          `json:"saved_at"`
}

// CatalogKey is the checkpoint key holding a catalog layer's content
func CatalogKey(layerID string) string {
	return catalogPrefix + layerID
}

const catalogPrefix = "catalog/"

func sortCatalog(recs []*LayerRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].GroupIndex != recs[j].GroupIndex {
			return recs[i].GroupIndex < recs[j].GroupIndex
		}
		return recs[i].LayerIndex < recs[j].LayerIndex
	})
}
