package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// provenanceSchemaVersion is stored in database_version
const provenanceSchemaVersion = 1

var provenanceSchema = []string{
	`CREATE TABLE IF NOT EXISTS database_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS provenance_step (
		prov_step_id INTEGER PRIMARY KEY,
		action_name TEXT NOT NULL,
		action_params TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		user_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS provenance_input (
		prov_step_id INTEGER NOT NULL REFERENCES provenance_step(prov_step_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		prov_id INTEGER NOT NULL,
		PRIMARY KEY (prov_step_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS provenance_output (
		prov_step_id INTEGER NOT NULL REFERENCES provenance_step(prov_step_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		prov_id INTEGER NOT NULL UNIQUE,
		PRIMARY KEY (prov_step_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS provenance_deleted (
		prov_step_id INTEGER NOT NULL REFERENCES provenance_step(prov_step_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		prov_id INTEGER NOT NULL,
		PRIMARY KEY (prov_step_id, position)
	)`,
}

// ProvenanceDB persists provenance steps in SQLite. It implements
// provenance.Store.
type ProvenanceDB struct {
	db   *sql.DB
	path string
}

var _ provenance.Store = (*ProvenanceDB)(nil)

// OpenProvenanceDB opens or creates the provenance database at path.
// ":memory:" gives a private in-memory database.
func OpenProvenanceDB(path string) (*ProvenanceDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection and an in-memory database lives on one
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	for _, stmt := range provenanceSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create provenance schema: %w", err)
		}
	}

	p := &ProvenanceDB{db: db, path: path}
	if err := p.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *ProvenanceDB) checkVersion() error {
	var version int
	err := p.db.QueryRow(`SELECT version FROM database_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := p.db.Exec(`INSERT INTO database_version(version) VALUES(?)`, provenanceSchemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != provenanceSchemaVersion:
		return fmt.Errorf("unsupported provenance schema version %d", version)
	}
	return nil
}

// Close closes the database
func (p *ProvenanceDB) Close() error {
	return p.db.Close()
}

// Path returns the configured database path
func (p *ProvenanceDB) Path() string { return p.path }

// InsertStep stores a step with its inputs, outputs and replaced ids
func (p *ProvenanceDB) InsertStep(step provenance.Step) (retErr error) {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`INSERT INTO provenance_step(prov_step_id, action_name, action_params, timestamp, user_id) VALUES(?,?,?,?,?)`,
		int64(step.ID), step.ActionName, step.ActionParams, step.Timestamp.UTC().Format(time.RFC3339Nano), step.User); err != nil {
		return fmt.Errorf("insert step %d: %w", step.ID, err)
	}
	lists := []struct {
		table string
		ids   []types.ProvenanceID
	}{
		{"provenance_input", step.Inputs},
		{"provenance_output", step.Outputs},
		{"provenance_deleted", step.Replaced},
	}
	for _, l := range lists {
		for i, pid := range l.ids {
			q := `INSERT INTO ` + l.table + `(prov_step_id, position, prov_id) VALUES(?,?,?)`
			if _, err := tx.Exec(q, int64(step.ID), i, int64(pid)); err != nil {
				return fmt.Errorf("insert %s of step %d: %w", l.table, step.ID, err)
			}
		}
	}
	return tx.Commit()
}

// DeleteStep removes a step and its id lists
func (p *ProvenanceDB) DeleteStep(id types.ProvenanceStepID) (retErr error) {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	// Child rows cascade when foreign keys are enforced; delete them anyway
	// for connections opened without the pragma
	for _, table := range []string{"provenance_input", "provenance_output", "provenance_deleted", "provenance_step"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE prov_step_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete step %d from %s: %w", id, table, err)
		}
	}
	return tx.Commit()
}

// UpdateStepParams rewrites the recorded action params of a step
func (p *ProvenanceDB) UpdateStepParams(id types.ProvenanceStepID, params string) error {
	res, err := p.db.Exec(`UPDATE provenance_step SET action_params = ? WHERE prov_step_id = ?`, params, int64(id))
	if err != nil {
		return fmt.Errorf("update step %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %d: %w", id, ErrNotFound)
	}
	return nil
}

// LoadSteps returns every stored step ordered by id
func (p *ProvenanceDB) LoadSteps() ([]provenance.Step, error) {
	rows, err := p.db.Query(`SELECT prov_step_id, action_name, action_params, timestamp, user_id FROM provenance_step ORDER BY prov_step_id`)
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []provenance.Step
	index := make(map[types.ProvenanceStepID]int)
	for rows.Next() {
		var (
			s  provenance.Step
			id int64
			ts string
		)
		if err := rows.Scan(&id, &s.ActionName, &s.ActionParams, &ts, &s.User); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.ID = types.ProvenanceStepID(id)
		if s.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("step %d timestamp: %w", id, err)
		}
		index[s.ID] = len(steps)
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lists := []struct {
		table string
		dest  func(*provenance.Step) *[]types.ProvenanceID
	}{
		{"provenance_input", func(s *provenance.Step) *[]types.ProvenanceID { return &s.Inputs }},
		{"provenance_output", func(s *provenance.Step) *[]types.ProvenanceID { return &s.Outputs }},
		{"provenance_deleted", func(s *provenance.Step) *[]types.ProvenanceID { return &s.Replaced }},
	}
	for _, l := range lists {
		if err := p.loadIDs(l.table, func(stepID types.ProvenanceStepID, pid types.ProvenanceID) {
			if i, ok := index[stepID]; ok {
				dst := l.dest(&steps[i])
				*dst = append(*dst, pid)
			}
		}); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

func (p *ProvenanceDB) loadIDs(table string, add func(types.ProvenanceStepID, types.ProvenanceID)) error {
	rows, err := p.db.Query(`SELECT prov_step_id, prov_id FROM ` + table + ` ORDER BY prov_step_id, position`)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var stepID, pid int64
		if err := rows.Scan(&stepID, &pid); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		add(types.ProvenanceStepID(stepID), types.ProvenanceID(pid))
	}
	return rows.Err()
}
