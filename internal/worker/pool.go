// Package worker runs composition jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/artifact"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/kiranshivaraju/mediaforge/internal/producer"
)

var (
	ErrQueueFull      = errors.New("job queue is full")
	ErrPoolClosed     = errors.New("worker pool is shut down")
	ErrNotCancellable = errors.New("job already finished")
)

const (
	msgInterrupted = "interrupted"
	msgShutdown    = "server shutting down"
)

// Options sizes the pool.
type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Stats is a point-in-time view of pool load.
type Stats struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
}

// Pool executes jobs from a bounded queue. Submissions beyond the queue size
// are refused at Reserve time, before any job exists.
type Pool struct {
	registry *jobs.Registry
	store    artifact.Store
	producer producer.Producer
	opts     Options

	slots chan struct{}
	queue chan string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	startOnce  sync.Once
	wg         sync.WaitGroup
}

// NewPool creates a pool. Call Start to launch the workers.
func NewPool(registry *jobs.Registry, store artifact.Store, prod producer.Producer, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	return &Pool{
		registry: registry,
		store:    store,
		producer: prod,
		opts:     opts,
		slots:    make(chan struct{}, opts.QueueSize),
		queue:    make(chan string, opts.QueueSize),
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches the workers. In-flight production is cancelled when ctx is
// done or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.baseCtx, p.baseCancel = context.WithCancel(ctx)
		p.mu.Unlock()

		for i := 0; i < p.opts.Workers; i++ {
			p.wg.Add(1)
			go p.loop(p.baseCtx)
		}
		slog.Info("worker pool started",
			"workers", p.opts.Workers, "queue_size", p.opts.QueueSize,
			"job_timeout", p.opts.JobTimeout.String(), "producer", p.producer.Name())
	})
}

// Ticket is a reserved queue slot. Exactly one of Dispatch or Release must be
// called.
type Ticket struct {
	pool *Pool
	once sync.Once
}

// Reserve claims a queue slot without blocking.
func (p *Pool) Reserve() (*Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
		return &Ticket{pool: p}, nil
	default:
		return nil, ErrQueueFull
	}
}

// Dispatch queues job id on the reserved slot. It never blocks.
func (t *Ticket) Dispatch(id string) error {
	err := ErrPoolClosed
	t.once.Do(func() {
		p := t.pool
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			<-p.slots
			return
		}
		p.queue <- id
		err = nil
	})
	return err
}

// Release gives the slot back without queueing anything.
func (t *Ticket) Release() {
	t.once.Do(func() { <-t.pool.slots })
}

// Cancel interrupts a queued or running job. A queued job fails immediately;
// a running job fails once its producer returns.
func (p *Pool) Cancel(ctx context.Context, id string) error {
	if p.cancelRunning(id) {
		return nil
	}

	_, err := p.registry.Transition(ctx, id, jobs.StatusFailed,
		jobs.WithError(msgInterrupted), jobs.From(jobs.StatusPending))
	if err == nil {
		slog.Info("job interrupted before start", "prompt_id", id)
		return nil
	}
	if errors.Is(err, jobs.ErrNotFound) {
		return err
	}

	// The job left Pending while we looked; a worker may own it now.
	if p.cancelRunning(id) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotCancellable, id)
}

func (p *Pool) cancelRunning(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.running[id]
	if ok {
		cancel()
		slog.Info("job interrupt requested", "prompt_id", id)
	}
	return ok
}

// Stats reports current pool load.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.opts.Workers,
		QueueSize: p.opts.QueueSize,
		Queued:    len(p.queue),
		Running:   len(p.running),
	}
}

// Shutdown stops intake, cancels in-flight production and waits for workers
// to finish. Jobs still queued are failed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	cancel := p.baseCancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}

	for {
		select {
		case id := <-p.queue:
			<-p.slots
			p.fail(context.Background(), id, msgShutdown)
		default:
			slog.Info("worker pool stopped")
			return nil
		}
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			<-p.slots
			if ctx.Err() != nil {
				p.fail(context.Background(), id, msgShutdown)
				return
			}
			p.process(ctx, id)
		}
	}
}

// process runs one job. Registry updates happen only before and after the
// producer call, and errors never leave this function.
func (p *Pool) process(base context.Context, id string) {
	ctx, cancel := context.WithTimeout(base, p.opts.JobTimeout)
	defer cancel()
	stateCtx := context.WithoutCancel(ctx)

	p.mu.Lock()
	p.running[id] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, id)
		p.mu.Unlock()
	}()

	job, err := p.registry.Transition(stateCtx, id, jobs.StatusRunning, jobs.From(jobs.StatusPending))
	if err != nil {
		slog.Info("skipping job", "prompt_id", id, "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in production worker", "prompt_id", id, "error", r)
			p.fail(stateCtx, id, fmt.Sprintf("panic: %v", r))
		}
	}()

	start := time.Now()
	res, err := p.producer.Produce(ctx, job)
	if err != nil {
		p.fail(stateCtx, id, p.failureMessage(ctx, base, err))
		return
	}

	filename := "output_" + id + res.Ext
	if _, err := p.store.Put(ctx, filename, res.ContentType, res.Data); err != nil {
		p.fail(stateCtx, id, fmt.Sprintf("storing artifact: %v", p.failureMessage(ctx, base, err)))
		return
	}

	if _, err := p.registry.Transition(stateCtx, id, jobs.StatusCompleted, jobs.WithOutputs(jobs.Output{
		Node:     res.Node,
		Filename: filename,
		Type:     "output",
	})); err != nil {
		slog.Error("completing job", "prompt_id", id, "error", err)
		return
	}
	slog.Info("job completed",
		"prompt_id", id, "client_id", job.ClientID, "filename", filename,
		"bytes", len(res.Data), "duration_ms", time.Since(start).Milliseconds())
}

// failureMessage turns a production error into the message stored on the job.
func (p *Pool) failureMessage(ctx, base context.Context, err error) string {
	switch {
	case base.Err() != nil:
		return msgShutdown
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("production timed out after %s", p.opts.JobTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return msgInterrupted
	default:
		return err.Error()
	}
}

func (p *Pool) fail(ctx context.Context, id, msg string) {
	if _, err := p.registry.Transition(ctx, id, jobs.StatusFailed, jobs.WithError(msg)); err != nil {
		slog.Warn("failing job", "prompt_id", id, "error", err)
		return
	}
	slog.Warn("job failed", "prompt_id", id, "error", msg)
}
