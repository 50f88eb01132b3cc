package services

import (
	"context"
	"sync"
	"time"
)

// memoryLockoutStore keeps failure windows and lockout expiries in
// process memory behind a single mutex.
type memoryLockoutStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	locks    map[string]time.Time
}

// NewMemoryLockoutStore creates an empty in-memory LockoutStore.
func NewMemoryLockoutStore() LockoutStore {
	return &memoryLockoutStore{
		failures: make(map[string][]time.Time),
		locks:    make(map[string]time.Time),
	}
}

func (m *memoryLockoutStore) RecordFailure(ctx context.Context, identifier string, now time.Time, window time.Duration, maxAttempts int, lockoutDuration time.Duration) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := pruneBefore(m.failures[identifier], now.Add(-window))
	kept = append(kept, now)
	m.failures[identifier] = kept

	count := len(kept)
	if count >= maxAttempts {
		// Re-arm the lockout on every failure past the threshold.
		// Failures stay recorded; they reset only when the lock expires
		// or the identifier is cleared.
		m.locks[identifier] = now.Add(lockoutDuration)
		return count, true, nil
	}
	return count, false, nil
}

func (m *memoryLockoutStore) CountFailures(ctx context.Context, identifier string, now time.Time, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := pruneBefore(m.failures[identifier], now.Add(-window))
	if len(kept) == 0 {
		delete(m.failures, identifier)
	} else {
		m.failures[identifier] = kept
	}
	return len(kept), nil
}

func (m *memoryLockoutStore) LockState(ctx context.Context, identifier string, now time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.locks[identifier]
	if !ok {
		return false, 0, nil
	}
	if !until.After(now) {
		// Lock expiry resets the failure history as well, so the next
		// failure starts a fresh window.
		delete(m.locks, identifier)
		delete(m.failures, identifier)
		return false, 0, nil
	}
	return true, until.Sub(now), nil
}

func (m *memoryLockoutStore) Clear(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.failures, identifier)
	delete(m.locks, identifier)
	return nil
}

func (m *memoryLockoutStore) Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := now.Add(-window)

	for identifier, until := range m.locks {
		if !until.After(now) {
			delete(m.locks, identifier)
			delete(m.failures, identifier)
			removed++
		}
	}

	for identifier, stamps := range m.failures {
		// Identifiers still locked keep their history until expiry.
		if _, locked := m.locks[identifier]; locked {
			continue
		}
		kept := pruneBefore(stamps, cutoff)
		if len(kept) == 0 {
			delete(m.failures, identifier)
			removed++
		} else {
			m.failures[identifier] = kept
		}
	}

	return removed, nil
}

// pruneBefore drops timestamps at or before the cutoff, reusing the
// backing array.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
