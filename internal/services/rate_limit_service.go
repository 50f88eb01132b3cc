package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/metrics"
)

// RateLimitStore owns the sliding request windows and the temporary IP
// blocklist. Allow is a compound prune-count-append so the store can
// keep each identifier's read-modify-write atomic: two concurrent
// callers for the same identifier must never both claim the last slot.
type RateLimitStore interface {
	Allow(ctx context.Context, identifier string, now time.Time, maxRequests int, window time.Duration) (bool, error)
	BlockIP(ctx context.Context, ip string, until time.Time) error
	BlockRemaining(ctx context.Context, ip string, now time.Time) (time.Duration, error)
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// RateLimitService implements per-identifier sliding-window request
// limiting plus a temporary IP blocklist for abusive clients.
type RateLimitService struct {
	store  RateLimitStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(store RateLimitStore, clk clock.Clock, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// IsRateLimited reports whether the identifier has exhausted its budget
// for the window. The boundary is inclusive: the call that fills the
// last slot still passes, the next call within the window is limited.
// A limited call consumes nothing.
func (s *RateLimitService) IsRateLimited(ctx context.Context, identifier string, maxRequests int, window time.Duration) (bool, error) {
	allowed, err := s.store.Allow(ctx, identifier, s.clock.Now(), maxRequests, window)
	if err != nil {
		s.logger.Error("rate limit check failed", slog.String("identifier", identifier), slog.Any("error", err))
		// Fail open for availability - a broken store shouldn't lock
		// everyone out. Actual limit decisions still fail closed.
		return false, err
	}

	if !allowed {
		s.logger.Warn("request rate limited",
			slog.String("identifier", identifier),
			slog.Int("max_requests", maxRequests),
			slog.Duration("window", window))
		metrics.RateLimitedTotal.Inc()
	}

	return !allowed, nil
}

// BlockIP puts the IP on the blocklist until now + duration.
func (s *RateLimitService) BlockIP(ctx context.Context, ip string, duration time.Duration) error {
	until := s.clock.Now().Add(duration)
	if err := s.store.BlockIP(ctx, ip, until); err != nil {
		s.logger.Error("failed to block IP", slog.String("ip_address", ip), slog.Any("error", err))
		return err
	}

	s.logger.Warn("IP blocked",
		slog.String("ip_address", ip),
		slog.Time("until", until))
	metrics.IPBlocksTotal.Inc()
	return nil
}

// IsIPBlocked reports whether the IP is currently blocked. Expired
// entries are evicted on lookup.
func (s *RateLimitService) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	remaining, err := s.BlockRemaining(ctx, ip)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// BlockRemaining returns how long the IP stays blocked, zero when it is
// not. Expired entries are evicted on lookup.
func (s *RateLimitService) BlockRemaining(ctx context.Context, ip string) (time.Duration, error) {
	remaining, err := s.store.BlockRemaining(ctx, ip, s.clock.Now())
	if err != nil {
		s.logger.Error("IP block check failed", slog.String("ip_address", ip), slog.Any("error", err))
		return 0, err
	}
	return remaining, nil
}

// Sweep drops identifiers with no activity inside the retention window
// and expired IP blocks. Lazy eviction already keeps answers correct;
// the sweep only bounds memory for identifiers never seen again.
func (s *RateLimitService) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.store.Sweep(ctx, s.clock.Now(), retention)
	if err != nil {
		s.logger.Error("rate limit sweep failed", slog.Any("error", err))
		return 0, err
	}
	return removed, nil
}
