package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Stop
var ErrPoolClosed = errors.New("worker pool is closed")

// Job asks for one dispatch attempt of a notification
type Job struct {
	NotificationID string    `json:"id"`
	UserID         string    `json:"user_id"`
	Priority       string    `json:"priority,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Handler processes one job
type Handler func(ctx context.Context, job Job)

// Enqueuer accepts dispatch jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Pool is a bounded worker pool. Submit blocks while the queue is full, so
// overload shows up as a growing backlog instead of unbounded goroutines.
// Jobs still queued when the pool stops are dropped; the store keeps those
// notifications eligible and the scheduler finds them again.
type Pool struct {
	workers int
	jobs    chan Job
	handler Handler
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	queued map[string]struct{}

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool with the given number of workers and queue capacity.
// metrics may be nil.
func NewPool(workers, queueSize int, handler Handler, logger *zap.Logger, metrics *monitoring.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		handler: handler,
		logger:  logger,
		metrics: metrics,
		queued:  make(map[string]struct{}),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.jobs)))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case job := <-p.jobs:
			p.done(job.NotificationID)
			p.run(ctx, id, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Dispatch job panicked",
				zap.Int("worker", worker),
				zap.String("id", job.NotificationID),
				zap.Any("panic", r),
			)
		}
	}()
	p.handler(ctx, job)
}

// Submit queues a job, blocking while the queue is full. A job whose
// notification is already queued is dropped and Submit returns false.
func (p *Pool) Submit(ctx context.Context, job Job) (bool, error) {
	select {
	case <-p.quit:
		return false, ErrPoolClosed
	default:
	}

	p.mu.Lock()
	if _, dup := p.queued[job.NotificationID]; dup {
		p.mu.Unlock()
		return false, nil
	}
	p.queued[job.NotificationID] = struct{}{}
	p.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case p.jobs <- job:
		p.observe()
		return true, nil
	case <-ctx.Done():
		p.done(job.NotificationID)
		return false, ctx.Err()
	case <-p.quit:
		p.done(job.NotificationID)
		return false, ErrPoolClosed
	}
}

// Enqueue implements Enqueuer
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	_, err := p.Submit(ctx, job)
	return err
}

// Backlog returns the number of queued jobs
func (p *Pool) Backlog() int {
	return len(p.jobs)
}

// Stop refuses new jobs and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Info("Worker pool stopped", zap.Int("dropped", len(p.jobs)))
	})
}

func (p *Pool) done(id string) {
	p.mu.Lock()
	delete(p.queued, id)
	p.mu.Unlock()
	p.observe()
}

func (p *Pool) observe() {
	if p.metrics != nil {
		p.metrics.SetQueueSize(len(p.jobs))
	}
}
