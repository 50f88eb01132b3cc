package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmoreau/loginshield/internal/clock"
)

func newRateLimitService(start time.Time) (*RateLimitService, *clock.Fake) {
	clk := clock.NewFake(start)
	svc := NewRateLimitService(NewMemoryRateLimitStore(), clk, testLogger)
	return svc, clk
}

func TestRateLimitService_WindowBoundary(t *testing.T) {
	svc, clk := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// Exactly maxRequests calls pass inside the window
	for i := 0; i < 5; i++ {
		limited, err := svc.IsRateLimited(ctx, "ip:login", 5, time.Minute)
		require.NoError(t, err)
		assert.False(t, limited, "call %d should pass", i+1)
	}

	// The next call in the same window is limited
	limited, err := svc.IsRateLimited(ctx, "ip:login", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, limited)

	// After the window fully elapses, calls pass again
	clk.Advance(time.Minute + time.Second)
	limited, err = svc.IsRateLimited(ctx, "ip:login", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRateLimitService_LimitedCallConsumesNothing(t *testing.T) {
	svc, clk := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.IsRateLimited(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
	}

	// Hammer the limiter while limited; these must not extend the window
	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		limited, err := svc.IsRateLimited(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, limited)
	}

	// 61s after the initial burst the original stamps are gone
	clk.Advance(51 * time.Second)
	limited, err := svc.IsRateLimited(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRateLimitService_IdentifiersAreIndependent(t *testing.T) {
	svc, _ := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.IsRateLimited(ctx, "1.2.3.4:/auth/login", 2, time.Minute)
		require.NoError(t, err)
	}

	limited, err := svc.IsRateLimited(ctx, "1.2.3.4:/auth/login", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, limited)

	// Same IP, different endpoint keeps its own budget
	limited, err = svc.IsRateLimited(ctx, "1.2.3.4:/auth/captcha", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRateLimitService_BlockIP(t *testing.T) {
	svc, clk := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, svc.BlockIP(ctx, "203.0.113.7", time.Hour))

	blocked, err := svc.IsIPBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)

	remaining, err := svc.BlockRemaining(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, remaining)

	clk.Advance(30 * time.Minute)
	remaining, err = svc.BlockRemaining(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, remaining)

	// Expiry evicts lazily
	clk.Advance(31 * time.Minute)
	blocked, err = svc.IsIPBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)

	remaining, err = svc.BlockRemaining(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestRateLimitService_UnknownIPNotBlocked(t *testing.T) {
	svc, _ := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	blocked, err := svc.IsIPBlocked(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRateLimitService_SweepDropsIdleState(t *testing.T) {
	svc, clk := newRateLimitService(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := svc.IsRateLimited(ctx, "once", 5, time.Minute)
	require.NoError(t, err)
	require.NoError(t, svc.BlockIP(ctx, "203.0.113.9", time.Minute))

	clk.Advance(2 * time.Minute)

	removed, err := svc.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

type failingRateLimitStore struct{}

func (failingRateLimitStore) Allow(ctx context.Context, identifier string, now time.Time, maxRequests int, window time.Duration) (bool, error) {
	return false, errors.New("store down")
}

func (failingRateLimitStore) BlockIP(ctx context.Context, ip string, until time.Time) error {
	return errors.New("store down")
}

func (failingRateLimitStore) BlockRemaining(ctx context.Context, ip string, now time.Time) (time.Duration, error) {
	return 0, errors.New("store down")
}

func (failingRateLimitStore) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	return 0, errors.New("store down")
}

func TestRateLimitService_BrokenStoreFailsOpen(t *testing.T) {
	svc := NewRateLimitService(failingRateLimitStore{}, clock.NewFake(time.Now()), testLogger)

	limited, err := svc.IsRateLimited(context.Background(), "k", 5, time.Minute)
	assert.Error(t, err)
	assert.False(t, limited)

	blocked, err := svc.IsIPBlocked(context.Background(), "203.0.113.1")
	assert.Error(t, err)
	assert.False(t, blocked)
}
