package services

import (
	"context"
	"sync"
	"time"
)

// memoryRateLimitStore keeps sliding windows and IP blocks in process
// memory behind a single mutex. Suitable for single-instance
// deployments; multi-instance setups need a RateLimitStore backed by a
// shared cache.
type memoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	blocks  map[string]time.Time
}

// NewMemoryRateLimitStore creates an empty in-memory RateLimitStore.
func NewMemoryRateLimitStore() RateLimitStore {
	return &memoryRateLimitStore{
		windows: make(map[string][]time.Time),
		blocks:  make(map[string]time.Time),
	}
}

func (m *memoryRateLimitStore) Allow(ctx context.Context, identifier string, now time.Time, maxRequests int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := pruneBefore(m.windows[identifier], now.Add(-window))
	if len(kept) >= maxRequests {
		m.windows[identifier] = kept
		return false, nil
	}

	m.windows[identifier] = append(kept, now)
	return true, nil
}

func (m *memoryRateLimitStore) BlockIP(ctx context.Context, ip string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[ip] = until
	return nil
}

func (m *memoryRateLimitStore) BlockRemaining(ctx context.Context, ip string, now time.Time) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.blocks[ip]
	if !ok {
		return 0, nil
	}
	if !until.After(now) {
		delete(m.blocks, ip)
		return 0, nil
	}
	return until.Sub(now), nil
}

func (m *memoryRateLimitStore) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := now.Add(-retention)

	for identifier, stamps := range m.windows {
		kept := pruneBefore(stamps, cutoff)
		if len(kept) == 0 {
			delete(m.windows, identifier)
			removed++
		} else {
			m.windows[identifier] = kept
		}
	}

	for ip, until := range m.blocks {
		if !until.After(now) {
			delete(m.blocks, ip)
			removed++
		}
	}

	return removed, nil
}
