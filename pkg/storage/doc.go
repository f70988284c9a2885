/*
Package storage persists the engine state that has to survive a restart.

Two databases live under the data directory:

	┌──────────────────── <dataDir> ─────────────────────────┐
	│                                                          │
	│  stratum.db (BoltDB)           provenance.sqlite         │
	│  ┌──────────────────────┐      ┌──────────────────────┐  │
	│  │ checkpoints  blobs   │      │ database_version     │  │
	│  │ undo         records │      │ provenance_step      │  │
	│  │ layers       catalog │      │ provenance_input     │  │
	│  │ state        counters│      │ provenance_output    │  │
	│  └──────────────────────┘      │ provenance_deleted   │  │
	│                                └──────────────────────┘  │
	└──────────────────────────────────────────────────────────┘

# BoltStore

BoltStore implements Store on bbolt. Checkpoints are stored in the binary
form produced by layer.Checkpoint.MarshalBinary; undo records, catalog
entries and engine counters are JSON. Keys in the checkpoints bucket are
either undo.CheckpointKey(item, layer) for undo items or CatalogKey(layer)
for saved projects. SaveUndoRecords drops undo checkpoints no record refers
to any more, inside the same transaction as the records themselves.

Undo records are kept under zero padded sequence keys so ForEach returns
them in stack order.

# ProvenanceDB

ProvenanceDB implements provenance.Store on SQLite through the pure Go
modernc.org/sqlite driver. Each step is one row in provenance_step with
its inputs, outputs and replaced ids in the child tables, ordered by
position so ${N} placeholders keep pointing at the right input. A step
insert runs in one transaction; a rejected output id leaves nothing behind.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := undoBuffer.Persist(store); err != nil {
		return err
	}

	provDB, err := storage.OpenProvenanceDB(filepath.Join(dataDir, "provenance.sqlite"))
	if err != nil {
		return err
	}
	log := provenance.NewLog(provDB, broker, user)

Both stores are safe for concurrent use.
*/
package storage
