// Package jobs holds the in-memory job registry that is the single source of
// truth for asynchronous composition jobs.
package jobs

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions lists the allowed next states for each status. Pending may
// fail directly when a job is interrupted or timed out before a worker picks it up.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Output references an artifact by filename. The artifact bytes are owned by
// the artifact store; a job only keeps the name.
type Output struct {
	Node     string `json:"node"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

// Job is a unit of asynchronous work. Values handed out by the Registry are
// copies and may be read without synchronization.
type Job struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	ClientID    string          `json:"client_id"`
	Input       json.RawMessage `json:"input"`
	Outputs     []Output        `json:"outputs,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

func (j *Job) clone() Job {
	c := *j
	if j.Input != nil {
		c.Input = append(json.RawMessage(nil), j.Input...)
	}
	if j.Outputs != nil {
		c.Outputs = append([]Output(nil), j.Outputs...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
