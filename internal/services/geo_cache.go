package services

import (
	"context"
	"sync"
	"time"

	"github.com/evanmoreau/loginshield/internal/models"
)

type geoCacheEntry struct {
	location  *models.GeoLocation
	expiresAt time.Time
}

// memoryGeoCache is an in-memory GeoCache with lazy expiry.
type memoryGeoCache struct {
	mu      sync.Mutex
	entries map[string]geoCacheEntry
}

// NewMemoryGeoCache creates an in-memory GeoCache.
func NewMemoryGeoCache() GeoCache {
	return &memoryGeoCache{
		entries: make(map[string]geoCacheEntry),
	}
}

func (m *memoryGeoCache) Get(ctx context.Context, ip string, now time.Time) (*models.GeoLocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[ip]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.After(now) {
		delete(m.entries, ip)
		return nil, false, nil
	}

	loc := *entry.location
	return &loc, true, nil
}

func (m *memoryGeoCache) Put(ctx context.Context, ip string, loc *models.GeoLocation, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *loc
	m.entries[ip] = geoCacheEntry{location: &stored, expiresAt: expiresAt}
	return nil
}

func (m *memoryGeoCache) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for ip, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			delete(m.entries, ip)
			removed++
		}
	}
	return removed, nil
}
