package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Observer is notified after a job is created or changes state. All calls come
// from one goroutine, in the order the registry applied the changes, so they
// never block the caller. The context keeps the caller's values but not its
// cancellation.
type Observer interface {
	JobChanged(ctx context.Context, job Job)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, job Job)

func (f ObserverFunc) JobChanged(ctx context.Context, job Job) { f(ctx, job) }

type transitionParams struct {
	outputs []Output
	errMsg  string
	from    []Status
}

// TransitionOption customizes a Transition call.
type TransitionOption func(*transitionParams)

// WithOutputs attaches artifact references; required when completing a job.
func WithOutputs(outputs ...Output) TransitionOption {
	return func(p *transitionParams) {
		p.outputs = append(p.outputs, outputs...)
	}
}

// WithError sets the failure message; required when failing a job.
func WithError(msg string) TransitionOption {
	return func(p *transitionParams) {
		p.errMsg = msg
	}
}

// From restricts the transition to jobs currently in one of the given states.
func From(statuses ...Status) TransitionOption {
	return func(p *transitionParams) {
		p.from = statuses
	}
}

// Registry maps job ids to job records. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	events *notifier
	now    func() time.Time
	newID  func() string
}

// NewRegistry creates an empty registry. Observers are called after every
// successful Create and Transition; call Close to flush them.
func NewRegistry(observers ...Observer) *Registry {
	r := &Registry{
		jobs:  make(map[string]*Job),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	if len(observers) > 0 {
		r.events = newNotifier(observers)
	}
	return r
}

// Close waits until observers have seen every change made so far. Later
// changes still apply to the registry but are not observed.
func (r *Registry) Close() {
	if r.events != nil {
		r.events.close()
	}
}

// Create inserts a new pending job and returns a snapshot of it. The record is
// fully built before it is published to the map.
func (r *Registry) Create(ctx context.Context, input json.RawMessage, clientID string) (Job, error) {
	job := &Job{
		Status:      StatusPending,
		ClientID:    clientID,
		Input:       append(json.RawMessage(nil), input...),
		SubmittedAt: r.now(),
	}

	r.mu.Lock()
	for {
		job.ID = r.newID()
		if _, taken := r.jobs[job.ID]; !taken {
			break
		}
		slog.Warn("job id collision, regenerating", "prompt_id", job.ID)
	}
	r.jobs[job.ID] = job
	snapshot := job.clone()
	r.notify(ctx, snapshot)
	r.mu.Unlock()

	return snapshot, nil
}

// Get returns a snapshot of the job or ErrNotFound.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job.clone(), nil
}

// Transition moves a job to status. Illegal transitions are rejected with
// ErrInvalidTransition and logged; the stored record is left untouched.
func (r *Registry) Transition(ctx context.Context, id string, status Status, opts ...TransitionOption) (Job, error) {
	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return Job{}, ErrNotFound
	}
	if err := checkTransition(job, status, params); err != nil {
		current := job.Status
		r.mu.Unlock()
		slog.Warn("rejected job transition",
			"prompt_id", id, "from", current, "to", status, "error", err)
		return Job{}, err
	}

	now := r.now()
	job.Status = status
	switch status {
	case StatusRunning:
		job.StartedAt = &now
	case StatusCompleted:
		job.Outputs = append([]Output(nil), params.outputs...)
		job.FinishedAt = &now
	case StatusFailed:
		job.Error = params.errMsg
		job.FinishedAt = &now
	}
	snapshot := job.clone()
	r.notify(ctx, snapshot)
	r.mu.Unlock()

	return snapshot, nil
}

func checkTransition(job *Job, to Status, p *transitionParams) error {
	if len(p.from) > 0 && !slices.Contains(p.from, job.Status) {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	if to == StatusCompleted && len(p.outputs) == 0 {
		return fmt.Errorf("%w: completed job needs at least one output", ErrInvalidTransition)
	}
	if to != StatusCompleted && len(p.outputs) > 0 {
		return fmt.Errorf("%w: outputs are only allowed on completion", ErrInvalidTransition)
	}
	if to == StatusFailed && p.errMsg == "" {
		return fmt.Errorf("%w: failed job needs an error message", ErrInvalidTransition)
	}
	return nil
}

// List returns snapshots of jobs in any of the given states (all jobs when
// none are given), oldest submission first.
func (r *Registry) List(statuses ...Status) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if len(statuses) == 0 || slices.Contains(statuses, job.Status) {
			out = append(out, job.clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	return out
}

// Prune drops terminal jobs that finished before cutoff and reports how many
// were removed. Live jobs are never pruned.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of jobs currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// notify queues job for the observers. r.mu must be held.
func (r *Registry) notify(ctx context.Context, job Job) {
	if r.events != nil {
		r.events.push(ctx, job)
	}
}
