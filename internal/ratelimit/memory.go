package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// MemoryLimiter keeps counters in process. A counter is reset exactly once,
// on the first access after its window has rolled over.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int64
	window time.Duration
	now    func() time.Time
	state  map[string]models.RateLimitState
}

// NewMemoryLimiter allows limit reservations per key and window. A nil now
// uses time.Now.
func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		limit:  int64(limit),
		window: window,
		now:    now,
		state:  make(map[string]models.RateLimitState),
	}
}

func (m *MemoryLimiter) current(key string) models.RateLimitState {
	start := WindowStart(m.now(), m.window)
	st, ok := m.state[key]
	if !ok || !st.WindowStart.Equal(start) {
		st = models.RateLimitState{Key: key, WindowStart: start}
		m.state[key] = st
	}
	return st
}

// Check reports the counter for the current window.
func (m *MemoryLimiter) Check(_ context.Context, key string) (models.RateLimitState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.current(key)
	return st, st.Count < m.limit, nil
}

// Reserve increments the counter when it is below the limit.
func (m *MemoryLimiter) Reserve(_ context.Context, key string) (models.RateLimitState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.current(key)
	if st.Count >= m.limit {
		return st, false, nil
	}
	st.Count++
	m.state[key] = st
	return st, true, nil
}

// Release decrements the counter of st's window. A window that has already
// rolled over is left alone.
func (m *MemoryLimiter) Release(_ context.Context, st models.RateLimitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.state[st.Key]
	if !ok || !cur.WindowStart.Equal(st.WindowStart) || cur.Count == 0 {
		return nil
	}
	cur.Count--
	m.state[st.Key] = cur
	return nil
}

// Prune drops counters from past windows.
func (m *MemoryLimiter) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := WindowStart(m.now(), m.window)
	n := 0
	for k, st := range m.state {
		if st.WindowStart.Before(start) {
			delete(m.state, k)
			n++
		}
	}
	return n
}

func (m *MemoryLimiter) Close() error { return nil }
