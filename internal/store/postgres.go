package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

const journalWriteTimeout = 2 * time.Second

// PostgresJournal implements the Journal interface using pgx/v5.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a new PostgresJournal.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresJournal) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresJournal) Append(ctx context.Context, job jobs.Job) error {
	outputs := job.Outputs
	if outputs == nil {
		outputs = []jobs.Output{}
	}
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	var errMsg *string
	if job.Error != "" {
		errMsg = &job.Error
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_events (job_id, status, client_id, error_message, outputs, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, string(job.Status), job.ClientID, errMsg, string(encoded), job.SubmittedAt)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

// History returns the recorded events of a job, oldest first.
func (s *PostgresJournal) History(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id::text, status, client_id, error_message, outputs, submitted_at, recorded_at
		 FROM job_events WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			status string
			errMsg *string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &status, &e.ClientID, &errMsg, &e.Outputs, &e.SubmittedAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Status = jobs.Status(status)
		if errMsg != nil {
			e.Error = *errMsg
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// JournalObserver records every registry change in a Journal. Write failures
// are logged and otherwise ignored.
type JournalObserver struct {
	journal Journal
}

// NewJournalObserver creates a JournalObserver.
func NewJournalObserver(j Journal) *JournalObserver {
	return &JournalObserver{journal: j}
}

func (o *JournalObserver) JobChanged(ctx context.Context, job jobs.Job) {
	ctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()

	if err := o.journal.Append(ctx, job); err != nil {
		slog.Warn("journaling job event", "prompt_id", job.ID, "status", job.Status, "error", err)
	}
}

var (
	_ Journal       = (*PostgresJournal)(nil)
	_ jobs.Observer = (*JournalObserver)(nil)
)
