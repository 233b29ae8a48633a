// Package sqlite provides a core.LedgerStore persisting one row per step in
// an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/policymesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_steps (
	ledger_key   TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	step_id      TEXT    NOT NULL,
	actor        TEXT    NOT NULL,
	step_type    TEXT    NOT NULL,
	call_id      TEXT    NOT NULL DEFAULT '',
	payload_json TEXT    NOT NULL,
	PRIMARY KEY (ledger_key, seq)
);
CREATE INDEX IF NOT EXISTS idx_ledger_steps_call ON ledger_steps (ledger_key, call_id);
`

// Store provides SQLite-backed persistence for scope ledgers.
type Store struct {
	sqlDB *sql.DB
}

var _ core.LedgerStore = (*Store)(nil)

// Open opens and migrates a ledger SQLite store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// One writer at a time; concurrent checkpoints queue on the pool.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns the ledger stored under key in step order. Unknown keys yield
// an empty ledger.
func (s *Store) Load(ctx context.Context, key string) (core.Ledger, error) {
	if s == nil || s.sqlDB == nil {
		return core.Ledger{}, errors.New("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT step_id, actor, step_type, call_id, payload_json
		 FROM ledger_steps
		 WHERE ledger_key = ?
		 ORDER BY seq`,
		key,
	)
	if err != nil {
		return core.Ledger{}, fmt.Errorf("load ledger %q: %w", key, err)
	}
	defer rows.Close()

	var steps []core.Step
	for rows.Next() {
		var (
			step        core.Step
			stepType    string
			payloadJSON string
		)
		if err := rows.Scan(&step.ID, &step.Actor, &stepType, &step.CallID, &payloadJSON); err != nil {
			return core.Ledger{}, fmt.Errorf("scan step: %w", err)
		}

		step.Type = core.StepType(stepType)
		if err := json.Unmarshal([]byte(payloadJSON), &step.Payload); err != nil {
			return core.Ledger{}, fmt.Errorf("decode payload of step %q: %w", step.ID, err)
		}

		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return core.Ledger{}, fmt.Errorf("iterate steps: %w", err)
	}

	return core.NewLedger(steps...)
}

// Save replaces the ledger stored under key in a single transaction.
func (s *Store) Save(ctx context.Context, key string, l core.Ledger) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_steps WHERE ledger_key = ?`, key); err != nil {
		return fmt.Errorf("clear ledger %q: %w", key, err)
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO ledger_steps (ledger_key, seq, step_id, actor, step_type, call_id, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, step := range l.All() {
		payload, err := json.Marshal(step.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of step %q: %w", step.ID, err)
		}

		if _, err := stmt.ExecContext(ctx, key, i, step.ID, step.Actor, string(step.Type), step.CallID, string(payload)); err != nil {
			return fmt.Errorf("insert step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger %q: %w", key, err)
	}

	return nil
}

// Delete removes the ledger stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM ledger_steps WHERE ledger_key = ?`, key); err != nil {
		return fmt.Errorf("delete ledger %q: %w", key, err)
	}

	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, errors.New("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT ledger_key FROM ledger_steps ORDER BY ledger_key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}
