package producer

import (
	"context"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

// minimalMP4 is an ftyp box followed by an empty free box. Players reject it
// but it carries the right signature for content sniffing.
var minimalMP4 = []byte{
	0x00, 0x00, 0x00, 0x20, 0x66, 0x74, 0x79, 0x70,
	0x69, 0x73, 0x6F, 0x6D, 0x00, 0x00, 0x02, 0x00,
	0x69, 0x73, 0x6F, 0x6D, 0x69, 0x73, 0x6F, 0x32,
	0x6D, 0x70, 0x34, 0x31, 0x00, 0x00, 0x00, 0x08,
	0x66, 0x72, 0x65, 0x65,
}

// Stub simulates production without any external tool.
type Stub struct {
	Delay time.Duration
	// Err, when set, is returned instead of a result.
	Err error
}

// NewStub returns a stub producer that takes delay per job.
func NewStub(delay time.Duration) *Stub {
	return &Stub{Delay: delay}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Produce(ctx context.Context, job jobs.Job) (*Result, error) {
	if _, err := ParseWorkflow(job.Input); err != nil {
		return nil, err
	}

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}

	return &Result{
		Data:        append([]byte(nil), minimalMP4...),
		ContentType: "video/mp4",
		Ext:         ".mp4",
		Node:        OutputNode,
	}, nil
}
