// Package recordstore persists domain.ExecutionRecord, the Execution
// Coordinator's (C6) append-mostly log of every accepted submission and
// its terminal outcome. The Coordinator is the sole writer; every other
// component only reads back through Store.Get.
package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/cortexdata/cortex/internal/domain"
)

// ErrNotFound is returned by Get when no record exists for the given ID.
var ErrNotFound = errors.New("recordstore: execution record not found")

// StatusUpdate carries the fields the Coordinator changes when an
// execution transitions state. Nil fields are left untouched.
type StatusUpdate struct {
	Status         domain.Status
	Stdout         *string
	Stderr         *string
	Result         *domain.ResultEnvelope
	Visualizations []domain.Figure
	ElapsedMs      *int64
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Store is the persistence contract the Execution Coordinator depends
// on. Concrete implementations: an in-memory store for tests and
// single-node deployments, and a Postgres-backed store for durable,
// multi-node ones.
type Store interface {
	// Put inserts a new record, normally in domain.StatusPending.
	Put(ctx context.Context, rec domain.ExecutionRecord) error

	// Get returns the current record, or ErrNotFound.
	Get(ctx context.Context, executionID string) (domain.ExecutionRecord, error)

	// UpdateStatus applies a StatusUpdate to an existing record.
	UpdateStatus(ctx context.Context, executionID string, update StatusUpdate) error

	// ListBySession returns the most recent records for a session,
	// newest first, bounded by limit.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ExecutionRecord, error)

	Close() error
}
