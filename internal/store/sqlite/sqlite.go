// Package sqlite implements the SQLite-backed state store. Entities are
// JSON blobs in narrow tables; the attempts table carries a foreign key
// to applications, so the backend itself rejects an attempt written
// before its parent.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/statecopy/internal/config"
	"github.com/roach88/statecopy/internal/model"
	"github.com/roach88/statecopy/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Store is the SQLite backend.
type Store struct {
	db *sql.DB
}

var _ store.StateStore = (*Store)(nil)

// Open is the registry factory. Creates the database file if absent and
// applies pragmas and the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (parent-before-child for attempts)
func Open(cfg *config.Config) (store.StateStore, error) {
	if cfg.SQL.Path == "" {
		return nil, store.NewConfigError(store.KindSQL, errors.New("sql.path is not set"))
	}

	db, err := sql.Open("sqlite3", cfg.SQL.Path)
	if err != nil {
		return nil, store.NewInitError(store.KindSQL, fmt.Errorf("open database: %w", err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.NewInitError(store.KindSQL, fmt.Errorf("connect: %w", err))
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY during the replay.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, store.NewInitError(store.KindSQL, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, store.NewInitError(store.KindSQL, err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database connection. Idempotent.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return store.NewCloseError(store.KindSQL, err)
	}
	return nil
}

func (s *Store) StoreVersion(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_version (id, major, minor) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET major = excluded.major, minor = excluded.minor
	`, store.CurrentVersion.Major, store.CurrentVersion.Minor)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "version", store.CurrentVersion.String(), err)
	}
	return nil
}

func (s *Store) StoreApplication(ctx context.Context, app model.ApplicationRecord) error {
	record, err := json.Marshal(app)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "application", app.ID.String(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (id, record) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record
	`, app.ID.String(), string(record))
	if err != nil {
		return store.NewWriteError(store.KindSQL, "application", app.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAttempt(ctx context.Context, attempt model.AttemptRecord) error {
	record, err := json.Marshal(attempt)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "attempt", attempt.ID.String(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (app_id, attempt_no, record) VALUES (?, ?, ?)
		ON CONFLICT(app_id, attempt_no) DO UPDATE SET record = excluded.record
	`, attempt.ID.ApplicationID.String(), attempt.ID.AttemptNumber, string(record))
	if err != nil {
		return store.NewWriteError(store.KindSQL, "attempt", attempt.ID.String(), err)
	}
	return nil
}

func (s *Store) StoreAMRMTokenState(ctx context.Context, state model.AMRMTokenState, _ bool) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "amrm-token-state", "", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO amrm_state (id, state) VALUES (0, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state
	`, string(blob))
	if err != nil {
		return store.NewWriteError(store.KindSQL, "amrm-token-state", "", err)
	}
	return nil
}

func (s *Store) StoreDelegationKey(ctx context.Context, key model.MasterKey) error {
	record, err := json.Marshal(key)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "delegation-key", fmt.Sprint(key.ID), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegation_keys (key_id, record) VALUES (?, ?)
		ON CONFLICT(key_id) DO UPDATE SET record = excluded.record
	`, key.ID, string(record))
	if err != nil {
		return store.NewWriteError(store.KindSQL, "delegation-key", fmt.Sprint(key.ID), err)
	}
	return nil
}

func (s *Store) StoreDelegationToken(ctx context.Context, token model.DelegationTokenID, renewDate int64, seq int64) error {
	record, err := json.Marshal(token)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "delegation-token", fmt.Sprint(seq), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegation_tokens (seq, record, renew_date) VALUES (?, ?, ?)
		ON CONFLICT(seq) DO UPDATE SET record = excluded.record, renew_date = excluded.renew_date
	`, seq, string(record), renewDate)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "delegation-token", fmt.Sprint(seq), err)
	}
	return nil
}

func (s *Store) StoreDelegationSequenceNumber(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delegation_sequence (id, seq) VALUES (0, ?)
		ON CONFLICT(id) DO UPDATE SET seq = excluded.seq
	`, seq)
	if err != nil {
		return store.NewWriteError(store.KindSQL, "delegation-sequence", fmt.Sprint(seq), err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context) (*model.Snapshot, error) {
	snap := model.NewSnapshot()

	if err := s.loadApplications(ctx, snap); err != nil {
		return nil, store.NewLoadError(store.KindSQL, err)
	}
	if err := s.loadAttempts(ctx, snap); err != nil {
		return nil, store.NewLoadError(store.KindSQL, err)
	}
	if err := s.loadAMRMState(ctx, snap); err != nil {
		return nil, store.NewLoadError(store.KindSQL, err)
	}
	if err := s.loadDelegationState(ctx, snap); err != nil {
		return nil, store.NewLoadError(store.KindSQL, err)
	}
	return snap, nil
}

func (s *Store) loadApplications(ctx context.Context, snap *model.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM applications`)
	if err != nil {
		return fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return fmt.Errorf("scan application: %w", err)
		}
		var app model.ApplicationRecord
		if err := json.Unmarshal([]byte(record), &app); err != nil {
			return fmt.Errorf("decode application: %w", err)
		}
		snap.Applications[app.ID] = &model.ApplicationState{Record: app}
	}
	return rows.Err()
}

func (s *Store) loadAttempts(ctx context.Context, snap *model.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM attempts ORDER BY app_id, attempt_no`)
	if err != nil {
		return fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return fmt.Errorf("scan attempt: %w", err)
		}
		var attempt model.AttemptRecord
		if err := json.Unmarshal([]byte(record), &attempt); err != nil {
			return fmt.Errorf("decode attempt: %w", err)
		}
		app, ok := snap.Applications[attempt.ID.ApplicationID]
		if !ok {
			return fmt.Errorf("attempt %s has no parent application row", attempt.ID)
		}
		app.Attempts = append(app.Attempts, attempt)
	}
	return rows.Err()
}

func (s *Store) loadAMRMState(ctx context.Context, snap *model.Snapshot) error {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM amrm_state WHERE id = 0`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query amrm state: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &snap.AMRMToken); err != nil {
		return fmt.Errorf("decode amrm state: %w", err)
	}
	return nil
}

func (s *Store) loadDelegationState(ctx context.Context, snap *model.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM delegation_keys ORDER BY key_id`)
	if err != nil {
		return fmt.Errorf("query delegation keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return fmt.Errorf("scan delegation key: %w", err)
		}
		var key model.MasterKey
		if err := json.Unmarshal([]byte(record), &key); err != nil {
			return fmt.Errorf("decode delegation key: %w", err)
		}
		snap.DelegationTokens.MasterKeys = append(snap.DelegationTokens.MasterKeys, key)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tokenRows, err := s.db.QueryContext(ctx, `SELECT record, renew_date FROM delegation_tokens`)
	if err != nil {
		return fmt.Errorf("query delegation tokens: %w", err)
	}
	defer tokenRows.Close()
	for tokenRows.Next() {
		var record string
		var renewDate int64
		if err := tokenRows.Scan(&record, &renewDate); err != nil {
			return fmt.Errorf("scan delegation token: %w", err)
		}
		var token model.DelegationTokenID
		if err := json.Unmarshal([]byte(record), &token); err != nil {
			return fmt.Errorf("decode delegation token: %w", err)
		}
		snap.DelegationTokens.Tokens[token] = renewDate
	}
	if err := tokenRows.Err(); err != nil {
		return err
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `SELECT seq FROM delegation_sequence WHERE id = 0`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query delegation sequence: %w", err)
	}
	snap.DelegationTokens.SequenceNumber = seq
	return nil
}
