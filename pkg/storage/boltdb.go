package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/undo"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCheckpoints = []byte("checkpoints")
	bucketUndo        = []byte("undo")
	bucketLayers      = []byte("layers")
	bucketState       = []byte("state")

	keyEngineState = []byte("engine")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stratum.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketCheckpoints, bucketUndo, bucketLayers, bucketState}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Checkpoint operations ---

// SaveCheckpoint stores the binary form of a checkpoint
func (s *BoltStore) SaveCheckpoint(key string, cp *layer.Checkpoint) error {
	data, err := cp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(key), data)
	})
}

// LoadCheckpoint reads a checkpoint saved under key
func (s *BoltStore) LoadCheckpoint(key string) (*layer.Checkpoint, error) {
	var cp layer.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("checkpoint %s: %w", key, ErrNotFound)
		}
		// Bolt values are only valid inside the transaction
		return cp.UnmarshalBinary(append([]byte(nil), data...))
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint
func (s *BoltStore) DeleteCheckpoint(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Delete([]byte(key))
	})
}

// ListCheckpoints returns every checkpoint key in byte order
func (s *BoltStore) ListCheckpoints() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// --- Undo record operations ---

// SaveUndoRecords replaces the stored undo records. Undo checkpoints that
// no record refers to any more are deleted in the same transaction.
func (s *BoltStore) SaveUndoRecords(records []undo.Record) error {
	live := make(map[string]bool, len(records))
	for _, r := range records {
		live[r.ID] = true
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketUndo); err != nil {
			return fmt.Errorf("failed to clear undo records: %w", err)
		}
		b, err := tx.CreateBucket(bucketUndo)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketUndo, err)
		}

		for i, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal undo record %s: %w", r.ID, err)
			}
			// Zero padded keys keep stack order under byte ordering
			if err := b.Put([]byte(fmt.Sprintf("%08d", i)), data); err != nil {
				return err
			}
		}

		cps := tx.Bucket(bucketCheckpoints)
		var stale [][]byte
		err = cps.ForEach(func(k, v []byte) error {
			key := string(k)
			if strings.HasPrefix(key, catalogPrefix) {
				return nil
			}
			itemID, _, _ := strings.Cut(key, "/")
			if !live[itemID] {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := cps.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadUndoRecords returns the stored records in the order they were saved
func (s *BoltStore) LoadUndoRecords() ([]undo.Record, error) {
	var records []undo.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUndo).ForEach(func(k, v []byte) error {
			var r undo.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal undo record: %w", err)
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

// --- Layer catalog operations ---

// SaveLayer creates or replaces a catalog entry
func (s *BoltStore) SaveLayer(rec *LayerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayers)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal layer: %w", err)
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// GetLayer retrieves a catalog entry by id
func (s *BoltStore) GetLayer(id string) (*LayerRecord, error) {
	var rec LayerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLayers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("layer %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListLayers returns every catalog entry ordered by group and then by
// position within the group
func (s *BoltStore) ListLayers() ([]*LayerRecord, error) {
	var recs []*LayerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLayers).ForEach(func(k, v []byte) error {
			var rec LayerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortCatalog(recs)
	return recs, nil
}

// DeleteLayer removes a catalog entry and its content checkpoint
func (s *BoltStore) DeleteLayer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCheckpoints).Delete([]byte(CatalogKey(id))); err != nil {
			return err
		}
		return tx.Bucket(bucketLayers).Delete([]byte(id))
	})
}

// ClearLayers removes the whole catalog and its checkpoints
func (s *BoltStore) ClearLayers() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketLayers); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(bucketLayers); err != nil {
			return err
		}
		c := tx.Bucket(bucketCheckpoints).Cursor()
		prefix := []byte(catalogPrefix)
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), catalogPrefix); k, _ = c.Seek(prefix) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Engine state operations ---

// SaveState stores the engine counters
func (s *BoltStore) SaveState(st *EngineState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal engine state: %w", err)
		}
		return tx.Bucket(bucketState).Put(keyEngineState, data)
	})
}

// GetState returns the stored engine counters
func (s *BoltStore) GetState() (*EngineState, error) {
	var st EngineState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyEngineState)
		if data == nil {
			return fmt.Errorf("engine state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}
