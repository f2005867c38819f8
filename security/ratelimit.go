package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxEntries bounds the number of tracked identifiers
	DefaultMaxEntries = 10000

	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTimeout     = 30 * time.Minute
)

type limiterEntry struct {
	id         string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token bucket per identifier (client ID or IP) with LRU eviction.
type RateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger

	evictions   int64
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the given burst.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, DefaultMaxEntries, logger)
}

// NewRateLimiterWithConfig is NewRateLimiter with a custom entry cap. Zero means unlimited.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid maxEntries, using default", "max_entries", maxEntries)
		maxEntries = DefaultMaxEntries
	}

	rl := &RateLimiter{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		limit:       rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request for id may proceed now.
func (rl *RateLimiter) Allow(id string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[id]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.entries) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		id:         id,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[id] = rl.lru.PushFront(entry)
	return entry.limiter.AllowN(now, 1)
}

// must hold mu
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.entries, entry.id)
	rl.lru.Remove(elem)
	rl.evictions++
	rl.logger.Debug("Rate limiter LRU eviction", "total_evictions", rl.evictions)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(defaultIdleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, entry.id)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}
	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed", "removed", removed, "remaining", len(rl.entries))
	}
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
