package jobs

import (
	"context"
	"log/slog"
	"sync"
)

type change struct {
	ctx context.Context
	job Job
}

// notifier delivers changes to observers on a single goroutine, in the order
// they were queued. The queue is unbounded so enqueueing never blocks the
// registry lock.
type notifier struct {
	observers []Observer

	mu      sync.Mutex
	pending []change
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(observers []Observer) *notifier {
	n := &notifier{
		observers: observers,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// push queues a change. Callers hold the registry lock so queue order matches
// the order changes were applied.
func (n *notifier) push(ctx context.Context, job Job) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		slog.Warn("job change after registry close not observed", "prompt_id", job.ID, "status", job.Status)
		return
	}
	n.pending = append(n.pending, change{ctx: context.WithoutCancel(ctx), job: job})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		closed := n.closed
		n.mu.Unlock()

		for _, c := range batch {
			for _, o := range n.observers {
				o.JobChanged(c.ctx, c.job)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}

// close delivers everything already queued and stops the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.done
}
