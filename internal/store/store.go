// Package store keeps an append-only journal of job status changes in
// Postgres. The journal is audit data; the in-memory registry never reads it.
package store

import (
	"context"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

// Journal is the data access interface for job events.
type Journal interface {
	Ping(ctx context.Context) error
	Append(ctx context.Context, job jobs.Job) error
	History(ctx context.Context, jobID string) ([]Event, error)
}

// Event is one recorded status change.
type Event struct {
	ID          int64
	JobID       string
	Status      jobs.Status
	ClientID    string
	Error       string
	Outputs     []jobs.Output
	SubmittedAt time.Time
	RecordedAt  time.Time
}
