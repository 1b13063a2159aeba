// Package storage implements a pluggable run ledger: a side-index of
// publish events, buffer occupancy samples, and lifecycle events,
// independent of the directory-tree snapshots internal/persistence
// takes. It exists for retrospective analysis (dashboards, publish_seq
// history) rather than for restoring runtime state, which is
// persistence's job.
package storage

import (
	"context"
	"fmt"
)

// PublishEvent records one model registry publish (§4.E).
type PublishEvent struct {
	RunID     string
	ModelName string
	Seq       uint64
	Timestamp float64 // virtual time of the publish
}

// BufferSample records a point-in-time data fabric occupancy reading
// (§4.D).
type BufferSample struct {
	RunID      string
	BufferName string
	Size       int
	Capacity   int
	Timestamp  float64
}

// RunEvent records a lifecycle or fatal-error event (§4.H) for the run
// ledger's timeline.
type RunEvent struct {
	RunID     string
	Kind      string // e.g. "lifecycle_transition", "fatal_error"
	Message   string
	Timestamp float64
}

// Store defines the run ledger's persistence operations.
type Store interface {
	Init(ctx context.Context) error
	RecordPublish(ctx context.Context, ev PublishEvent) error
	PublishHistory(ctx context.Context, runID, modelName string) ([]PublishEvent, error)
	RecordBufferSample(ctx context.Context, s BufferSample) error
	BufferHistory(ctx context.Context, runID, bufferName string) ([]BufferSample, error)
	RecordRunEvent(ctx context.Context, ev RunEvent) error
	RunEvents(ctx context.Context, runID string) ([]RunEvent, error)
}

// NewStore builds the run ledger backend named by kind: "" or "memory"
// for the in-process MemoryStore, "sqlite" for the on-disk backend at
// sqlitePath (only available in builds tagged "sqlite"; see
// sqlite_disabled.go's stub otherwise).
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// CloseIfSupported closes store if it implements io.Closer-like
// lifecycle (the sqlite backend does; MemoryStore doesn't need to).
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
