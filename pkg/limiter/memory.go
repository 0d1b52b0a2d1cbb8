// Package limiter bounds shared resource budgets for concurrent pipelines.
package limiter

import (
	"sync"
)

// Memory manages a shared byte budget so concurrency is throttled by memory
// usage rather than only by worker count. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	available int64
	capacity  int64
}

// NewMemory creates a memory limiter with the given total capacity in bytes.
func NewMemory(limit int64) *Memory {
	return &Memory{
		available: limit,
		capacity:  limit,
	}
}

// TryAcquire attempts to reserve n bytes from the budget. It returns false
// when not enough budget is currently available, or when n exceeds the total
// capacity (so the caller can fall back to a streaming path immediately).
func (m *Memory) TryAcquire(n int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.capacity {
		return false
	}

	if m.available >= n {
		m.available -= n
		return true
	}

	return false
}

// Release returns n bytes to the budget. Must follow a successful TryAcquire.
func (m *Memory) Release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available += n

	// Guard against double release.
	if m.available > m.capacity {
		m.available = m.capacity
	}
}

// Available returns the amount of budget currently free.
func (m *Memory) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Capacity returns the total capacity of the limiter.
func (m *Memory) Capacity() int64 {
	return m.capacity
}
