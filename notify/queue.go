package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
)

const (
	// DefaultWorkers is the default number of worker goroutines
	DefaultWorkers = 2

	// DefaultCapacity is the default queue buffer size
	DefaultCapacity = 256

	// DefaultTaskTimeout bounds a single task run
	DefaultTaskTimeout = 10 * time.Second
)

// Task is a unit of asynchronous work.
type Task struct {
	// Kind labels the task in logs and metrics
	Kind string

	Run func(ctx context.Context) error
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Workers     int
	Capacity    int
	TaskTimeout time.Duration

	// Logger receives drop and failure records (default: slog.Default())
	Logger *slog.Logger

	// Metrics is optional; nil disables task counters
	Metrics *instrumentation.Metrics
}

// Queue is a bounded task queue served by a fixed worker pool.
type Queue struct {
	tasks   chan Task
	timeout time.Duration
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once

	submitted atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewQueue starts the workers and returns the queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		tasks:   make(chan Task, cfg.Capacity),
		timeout: cfg.TaskTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues t without blocking. It returns false if the queue is full
// or stopped; the task is then dropped.
func (q *Queue) Submit(t Task) bool {
	if q == nil || t.Run == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(t, "stopped")
		return false
	}

	select {
	case q.tasks <- t:
		q.submitted.Add(1)
		return true
	default:
		q.drop(t, "full")
		return false
	}
}

// Publish submits a task delivering event through n.
func (q *Queue) Publish(n Notifier, event Event) bool {
	if n == nil {
		return false
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return q.Submit(Task{
		Kind: event.Kind,
		Run: func(ctx context.Context) error {
			return n.Notify(ctx, event)
		},
	})
}

// Stop refuses new tasks and waits for queued ones to finish or ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify queue did not drain: %w", ctx.Err())
	}
}

// Stats returns submitted, dropped and failed task counts.
func (q *Queue) Stats() (submitted, dropped, failed int64) {
	return q.submitted.Load(), q.dropped.Load(), q.failed.Load()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.Run(ctx)
	}()

	if err != nil {
		q.failed.Add(1)
		q.metrics.RecordNotifyTask(ctx, t.Kind, "failed")
		q.logger.Warn("Notification task failed",
			"kind", t.Kind,
			"error", err)
		return
	}
	q.metrics.RecordNotifyTask(ctx, t.Kind, "delivered")
}

func (q *Queue) drop(t Task, reason string) {
	q.dropped.Add(1)
	q.metrics.RecordNotifyTask(context.Background(), t.Kind, "dropped")
	q.logger.Warn("Notification task dropped",
		"kind", t.Kind,
		"reason", reason)
}
