// Package entitystore implements the checkpoint-versioned entity storage
// user indexing functions read and write through. Every write is stamped
// with the checkpoint of the task that produced it; Revert restores the
// store to the view it had at an earlier checkpoint without a destructive
// delete of everything after it — the previous revision of a row is kept
// until a later write supersedes it, and Revert simply removes revisions
// written after the target checkpoint and un-supersedes whatever they
// replaced. This mirrors the interval truncate-on-reorg approach used for
// sync coverage: roll back bookkeeping, don't blindly wipe it.
package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/logger"
)

// EntityStore is the CRUD + revert surface exposed to user indexing
// functions and to the scheduler's reorg handling.
type EntityStore interface {
	FindUnique(ctx context.Context, entity, id string, out interface{}) (bool, error)
	FindMany(ctx context.Context, entity string) ([]Row, error)
	Create(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error
	Update(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error
	Upsert(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error
	Delete(ctx context.Context, c checkpoint.Checkpoint, entity, id string) error
	CreateMany(ctx context.Context, c checkpoint.Checkpoint, entity string, rows map[string]interface{}) error
	DeleteMany(ctx context.Context, c checkpoint.Checkpoint, entity string, ids []string) error
	Revert(ctx context.Context, c checkpoint.Checkpoint) error
}

// Row is a decoded entity revision returned by FindMany.
type Row struct {
	ID         string
	Data       json.RawMessage
	Checkpoint checkpoint.Checkpoint
}

// Store is the SQLite-backed EntityStore implementation.
type Store struct {
	db  *sql.DB
	log *logger.Logger

	// opLock serializes Revert against writes and against other Reverts;
	// FindUnique/FindMany only need to exclude Revert, so they take the
	// read side. Same RWMutex shape as internal/db.MaintenanceCoordinator's
	// opLock.
	opLock sync.RWMutex
}

func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.WithComponent("entity-store")}
}

func (s *Store) FindUnique(ctx context.Context, entity, id string, out interface{}) (bool, error) {
	s.opLock.RLock()
	defer s.opLock.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM entity_rows
		WHERE entity = ? AND entity_id = ? AND deleted = 0 AND superseded_ts IS NULL
		ORDER BY written_ts DESC, written_chain_id DESC, written_block DESC, written_log_idx DESC
		LIMIT 1`, entity, id)

	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("entitystore: find unique %s/%s: %w", entity, id, err)
	}

	if out != nil {
		if err := json.Unmarshal([]byte(data), out); err != nil {
			return false, fmt.Errorf("entitystore: decode %s/%s: %w", entity, id, err)
		}
	}
	return true, nil
}

func (s *Store) FindMany(ctx context.Context, entity string) ([]Row, error) {
	s.opLock.RLock()
	defer s.opLock.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, data, written_ts, written_chain_id, written_block, written_log_idx FROM entity_rows
		WHERE entity = ? AND deleted = 0 AND superseded_ts IS NULL
		ORDER BY entity_id ASC`, entity)
	if err != nil {
		return nil, fmt.Errorf("entitystore: find many %s: %w", entity, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var id, data string
		var c checkpoint.Checkpoint
		var logIdx uint32
		if err := rows.Scan(&id, &data, &c.BlockTimestamp, &c.ChainID, &c.BlockNumber, &logIdx); err != nil {
			return nil, fmt.Errorf("entitystore: scan %s: %w", entity, err)
		}
		c.LogIndex = &logIdx
		out = append(out, Row{ID: id, Data: json.RawMessage(data), Checkpoint: c})
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error {
	return s.write(ctx, c, entity, id, data, false)
}

func (s *Store) Update(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error {
	return s.write(ctx, c, entity, id, data, false)
}

func (s *Store) Upsert(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}) error {
	return s.write(ctx, c, entity, id, data, false)
}

func (s *Store) Delete(ctx context.Context, c checkpoint.Checkpoint, entity, id string) error {
	return s.write(ctx, c, entity, id, struct{}{}, true)
}

func (s *Store) CreateMany(ctx context.Context, c checkpoint.Checkpoint, entity string, rows map[string]interface{}) error {
	for id, data := range rows {
		if err := s.Create(ctx, c, entity, id, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, c checkpoint.Checkpoint, entity string, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, c, entity, id); err != nil {
			return err
		}
	}
	return nil
}

// write inserts a new revision for (entity, id) stamped at c, and marks any
// previously-current revision as superseded at c.
func (s *Store) write(ctx context.Context, c checkpoint.Checkpoint, entity, id string, data interface{}, deleted bool) error {
	if c.LogIndex == nil {
		return fmt.Errorf("entitystore: write requires a concrete checkpoint log index")
	}

	s.opLock.Lock()
	defer s.opLock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("entitystore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		UPDATE entity_rows SET superseded_ts = ?, superseded_chain_id = ?, superseded_block = ?, superseded_log_idx = ?
		WHERE entity = ? AND entity_id = ? AND superseded_ts IS NULL`,
		c.BlockTimestamp, c.ChainID, c.BlockNumber, *c.LogIndex, entity, id)
	if err != nil {
		return fmt.Errorf("entitystore: supersede %s/%s: %w", entity, id, err)
	}

	var payload []byte
	if deleted {
		payload = []byte("null")
	} else {
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("entitystore: encode %s/%s: %w", entity, id, err)
		}
	}

	deletedFlag := 0
	if deleted {
		deletedFlag = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_rows (entity, entity_id, data, deleted, written_ts, written_chain_id, written_block, written_log_idx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entity, id, string(payload), deletedFlag, c.BlockTimestamp, c.ChainID, c.BlockNumber, *c.LogIndex)
	if err != nil {
		return fmt.Errorf("entitystore: insert %s/%s: %w", entity, id, err)
	}

	return tx.Commit()
}

// Revert restores the store to the view it had at checkpoint c: revisions
// written strictly after c are deleted, and supersede markers set by those
// revisions are cleared.
func (s *Store) Revert(ctx context.Context, c checkpoint.Checkpoint) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("entitystore: begin revert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, written_ts, written_chain_id, written_block, written_log_idx FROM entity_rows`)
	if err != nil {
		return fmt.Errorf("entitystore: scan revisions for revert: %w", err)
	}

	type rev struct {
		seq     int64
		written checkpoint.Checkpoint
	}
	var toDelete []int64
	for rows.Next() {
		var r rev
		var logIdx uint32
		if err := rows.Scan(&r.seq, &r.written.BlockTimestamp, &r.written.ChainID, &r.written.BlockNumber, &logIdx); err != nil {
			rows.Close() //nolint:errcheck
			return fmt.Errorf("entitystore: scan revision row: %w", err)
		}
		r.written.LogIndex = &logIdx
		if checkpoint.Compare(r.written, c, checkpoint.AsLowerBound, checkpoint.AsUpperBound) > 0 {
			toDelete = append(toDelete, r.seq)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close() //nolint:errcheck

	for _, seq := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_rows WHERE seq = ?`, seq); err != nil {
			return fmt.Errorf("entitystore: delete reverted revision %d: %w", seq, err)
		}
	}

	// Clear supersede markers set by the revisions we just deleted: any row
	// whose superseded_ts is set to a checkpoint strictly after c is now the
	// current view again.
	supRows, err := tx.QueryContext(ctx, `
		SELECT seq, superseded_ts, superseded_chain_id, superseded_block, superseded_log_idx FROM entity_rows
		WHERE superseded_ts IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("entitystore: scan superseded rows: %w", err)
	}
	var toUnsupersede []int64
	for supRows.Next() {
		var seq int64
		var sup checkpoint.Checkpoint
		var logIdx uint32
		if err := supRows.Scan(&seq, &sup.BlockTimestamp, &sup.ChainID, &sup.BlockNumber, &logIdx); err != nil {
			supRows.Close() //nolint:errcheck
			return fmt.Errorf("entitystore: scan superseded row: %w", err)
		}
		sup.LogIndex = &logIdx
		if checkpoint.Compare(sup, c, checkpoint.AsLowerBound, checkpoint.AsUpperBound) > 0 {
			toUnsupersede = append(toUnsupersede, seq)
		}
	}
	if err := supRows.Err(); err != nil {
		return err
	}
	supRows.Close() //nolint:errcheck

	for _, seq := range toUnsupersede {
		_, err := tx.ExecContext(ctx, `
			UPDATE entity_rows SET superseded_ts = NULL, superseded_chain_id = NULL, superseded_block = NULL, superseded_log_idx = NULL
			WHERE seq = ?`, seq)
		if err != nil {
			return fmt.Errorf("entitystore: unsupersede revision %d: %w", seq, err)
		}
	}

	return tx.Commit()
}
