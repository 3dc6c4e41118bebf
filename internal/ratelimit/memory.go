package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

var _ AttemptCounter = (*MemoryCounter)(nil)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter keeps windows in process memory. Counts are not shared
// between instances.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	ops     int
}

// NewMemoryCounter returns an empty counter. A nil clock means time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     now,
	}
}

// Increment implements AttemptCounter.
func (m *MemoryCounter) Increment(_ context.Context, key string, length time.Duration) (int64, time.Time, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len reports how many windows are tracked.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Sweep drops windows that have ended.
func (m *MemoryCounter) Sweep() {
	now := m.now()
	m.mu.Lock()
	m.sweepLocked(now)
	m.mu.Unlock()
}

// Run sweeps every interval until ctx is done.
func (m *MemoryCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryCounter) sweepLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
