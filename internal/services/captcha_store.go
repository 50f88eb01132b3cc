package services

import (
	"context"
	"sync"
	"time"
)

// memoryCaptchaStore keeps issued challenges in process memory behind a
// single mutex.
type memoryCaptchaStore struct {
	mu      sync.Mutex
	entries map[string]CaptchaEntry
}

// NewMemoryCaptchaStore creates an empty in-memory CaptchaStore.
func NewMemoryCaptchaStore() CaptchaStore {
	return &memoryCaptchaStore{
		entries: make(map[string]CaptchaEntry),
	}
}

func (m *memoryCaptchaStore) Put(ctx context.Context, token string, entry CaptchaEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[token] = entry
	return nil
}

func (m *memoryCaptchaStore) Get(ctx context.Context, token string) (CaptchaEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[token]
	return entry, ok, nil
}

func (m *memoryCaptchaStore) Delete(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[token]; !ok {
		return false, nil
	}
	delete(m.entries, token)
	return true, nil
}

func (m *memoryCaptchaStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, entry := range m.entries {
		if !entry.ExpiresAt.After(now) {
			delete(m.entries, token)
			removed++
		}
	}
	return removed, nil
}
