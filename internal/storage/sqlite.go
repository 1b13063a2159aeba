//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// newSQLiteStore is NewStore's "sqlite" backend in builds tagged sqlite.
func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) RecordPublish(ctx context.Context, ev PublishEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO publish_events (run_id, model_name, seq, timestamp)
		VALUES (?, ?, ?, ?)
	`, ev.RunID, ev.ModelName, ev.Seq, ev.Timestamp)
	return err
}

func (s *SQLiteStore) PublishHistory(ctx context.Context, runID, modelName string) ([]PublishEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, model_name, seq, timestamp FROM publish_events
		WHERE run_id = ? AND model_name = ? ORDER BY seq ASC
	`, runID, modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PublishEvent
	for rows.Next() {
		var ev PublishEvent
		if err := rows.Scan(&ev.RunID, &ev.ModelName, &ev.Seq, &ev.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordBufferSample(ctx context.Context, sample BufferSample) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO buffer_samples (run_id, buffer_name, size, capacity, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, sample.RunID, sample.BufferName, sample.Size, sample.Capacity, sample.Timestamp)
	return err
}

func (s *SQLiteStore) BufferHistory(ctx context.Context, runID, bufferName string) ([]BufferSample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, buffer_name, size, capacity, timestamp FROM buffer_samples
		WHERE run_id = ? AND buffer_name = ? ORDER BY timestamp ASC
	`, runID, bufferName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BufferSample
	for rows.Next() {
		var s BufferSample
		if err := rows.Scan(&s.RunID, &s.BufferName, &s.Size, &s.Capacity, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordRunEvent(ctx context.Context, ev RunEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, kind, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, ev.RunID, ev.Kind, ev.Message, ev.Timestamp)
	return err
}

func (s *SQLiteStore) RunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, kind, message, timestamp FROM run_events
		WHERE run_id = ? ORDER BY timestamp ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var ev RunEvent
		if err := rows.Scan(&ev.RunID, &ev.Kind, &ev.Message, &ev.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS publish_events (
			run_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_publish_events_run_model
			ON publish_events (run_id, model_name);
		CREATE TABLE IF NOT EXISTS buffer_samples (
			run_id TEXT NOT NULL,
			buffer_name TEXT NOT NULL,
			size INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			timestamp REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_buffer_samples_run_buffer
			ON buffer_samples (run_id, buffer_name);
		CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run
			ON run_events (run_id);
	`)
	return err
}
