package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

const mirrorWriteTimeout = 2 * time.Second

// StatusMirror copies every job status change into the cache so that other
// processes can watch job progress. It never blocks the registry for longer
// than a short write timeout and ignores cache failures.
type StatusMirror struct {
	cache Cache
	ttl   time.Duration
}

// NewStatusMirror creates a StatusMirror whose keys expire after ttl.
func NewStatusMirror(c Cache, ttl time.Duration) *StatusMirror {
	return &StatusMirror{cache: c, ttl: ttl}
}

func (m *StatusMirror) JobChanged(ctx context.Context, job jobs.Job) {
	ctx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
	defer cancel()

	if err := m.cache.SetJobStatus(ctx, job.ID, string(job.Status), m.ttl); err != nil {
		slog.Warn("mirroring job status", "prompt_id", job.ID, "status", job.Status, "error", err)
	}
}

var _ jobs.Observer = (*StatusMirror)(nil)
