// Package compose implements asynchronous media composition: submission,
// status reporting and interruption of jobs.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/kiranshivaraju/mediaforge/internal/worker"
)

var ErrInvalidPrompt = errors.New("invalid prompt")

// Status strings reported to polling clients.
const (
	StatusStrPending = "pending"
	StatusStrRunning = "running"
	StatusStrSuccess = "success"
	StatusStrError   = "error"
)

// Dispatcher hands jobs to the production workers.
type Dispatcher interface {
	Reserve() (*worker.Ticket, error)
	Cancel(ctx context.Context, id string) error
	Stats() worker.Stats
}

// Report is the status view of one job.
type Report struct {
	Job       jobs.Job
	Completed bool
	Failed    bool
	StatusStr string
	Messages  []string
}

// Queue lists live jobs by state, oldest first.
type Queue struct {
	Running []jobs.Job
	Pending []jobs.Job
}

// Service orchestrates job submission and status queries.
type Service struct {
	registry   *jobs.Registry
	dispatcher Dispatcher
}

// NewService creates a new Service.
func NewService(registry *jobs.Registry, dispatcher Dispatcher) *Service {
	return &Service{registry: registry, dispatcher: dispatcher}
}

// Submit validates prompt, creates a pending job and queues it. It returns as
// soon as the job is queued; production happens in the background.
func (s *Service) Submit(ctx context.Context, prompt json.RawMessage, clientID string) (jobs.Job, error) {
	if err := validatePrompt(prompt); err != nil {
		return jobs.Job{}, err
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ticket, err := s.dispatcher.Reserve()
	if err != nil {
		return jobs.Job{}, err
	}

	job, err := s.registry.Create(ctx, prompt, clientID)
	if err != nil {
		ticket.Release()
		return jobs.Job{}, fmt.Errorf("creating job: %w", err)
	}

	if err := ticket.Dispatch(job.ID); err != nil {
		// The pool closed between Reserve and Dispatch.
		_, _ = s.registry.Transition(ctx, job.ID, jobs.StatusFailed, jobs.WithError(err.Error()))
		return jobs.Job{}, err
	}

	slog.Info("job submitted", "prompt_id", job.ID, "client_id", clientID)
	return job, nil
}

func validatePrompt(prompt json.RawMessage) error {
	trimmed := bytes.TrimSpace(prompt)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: prompt is required", ErrInvalidPrompt)
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: prompt must be a JSON object", ErrInvalidPrompt)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrompt, err)
	}
	return nil
}

// Report returns the status of job id or jobs.ErrNotFound.
func (s *Service) Report(id string) (Report, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return Report{}, err
	}

	r := Report{Job: job}
	switch job.Status {
	case jobs.StatusPending:
		r.StatusStr = StatusStrPending
	case jobs.StatusRunning:
		r.StatusStr = StatusStrRunning
	case jobs.StatusCompleted:
		r.Completed = true
		r.StatusStr = StatusStrSuccess
	case jobs.StatusFailed:
		r.Failed = true
		r.StatusStr = StatusStrError
		r.Messages = []string{job.Error}
	}
	return r, nil
}

// Interrupt cancels a queued or running job.
func (s *Service) Interrupt(ctx context.Context, id string) error {
	return s.dispatcher.Cancel(ctx, id)
}

// Queue returns the live jobs.
func (s *Service) Queue() Queue {
	return Queue{
		Running: s.registry.List(jobs.StatusRunning),
		Pending: s.registry.List(jobs.StatusPending),
	}
}

// Stats reports worker pool load.
func (s *Service) Stats() worker.Stats {
	return s.dispatcher.Stats()
}

// RunJanitor drops finished jobs older than retention every interval until
// ctx is done.
func (s *Service) RunJanitor(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.registry.Prune(now.Add(-retention)); n > 0 {
				slog.Info("pruned finished jobs", "count", n, "retention", retention.String())
			}
		}
	}
}
