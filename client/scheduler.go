package client

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Scheduler runs at most one pending task per key. Arming a key again
// replaces the pending task; a timer that already fired for a replaced task
// is discarded by generation.
type Scheduler struct {
	mu         sync.Mutex
	tasks      map[string]*scheduledTask
	generation uint64
	stopped    bool
	logger     *slog.Logger
}

type scheduledTask struct {
	timer      *time.Timer
	generation uint64
	fireAt     time.Time
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:  make(map[string]*scheduledTask),
		logger: logger,
	}
}

// Schedule runs fn after delay under key, replacing any pending task for key.
// A negative delay is treated as zero. Schedule is a no-op after Stop.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	s.generation++
	gen := s.generation
	task := &scheduledTask{generation: gen, fireAt: time.Now().Add(delay)}
	task.timer = time.AfterFunc(delay, func() { s.fire(key, gen, fn) })
	s.tasks[key] = task

	s.logger.Debug("Task scheduled", "key", key, "delay", delay)
}

func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	task, ok := s.tasks[key]
	if !ok || task.generation != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked",
				"key", key,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Cancel drops the pending task for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[key]; ok {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}

// Pending reports when the task for key is due to fire.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return task.fireAt, true
}

// Stop cancels every pending task and disables further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
	s.stopped = true
}
