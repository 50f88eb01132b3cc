package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/evanmoreau/loginshield/internal/repositories"
	"github.com/evanmoreau/loginshield/internal/services"
)

// Sweeper periodically evicts expired engine state. Lazy expiry already
// keeps answers correct; the sweep bounds memory for identifiers that
// are seen once and never looked up again, and trims old security
// events out of the database.
type Sweeper struct {
	rateLimits *services.RateLimitService
	attempts   *services.LoginAttemptService
	captchas   *services.CaptchaService
	geo        *services.GeoLocationService
	events     repositories.SecurityEventRepository
	clock      clock.Clock
	logger     *slog.Logger

	interval           time.Duration
	rateLimitRetention time.Duration
	eventRetention     time.Duration

	stopCh chan struct{}
}

// NewSweeper creates a new sweeper. rateLimitRetention should be the
// rate limit window: stamps older than one window can never influence
// a limit decision again.
func NewSweeper(
	rateLimits *services.RateLimitService,
	attempts *services.LoginAttemptService,
	captchas *services.CaptchaService,
	geo *services.GeoLocationService,
	events repositories.SecurityEventRepository,
	clk clock.Clock,
	cfg *config.SweepConfig,
	rateLimitRetention time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		rateLimits:         rateLimits,
		attempts:           attempts,
		captchas:           captchas,
		geo:                geo,
		events:             events,
		clock:              clk,
		logger:             logger,
		interval:           cfg.Interval,
		rateLimitRetention: rateLimitRetention,
		eventRetention:     cfg.EventRetention,
		stopCh:             make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

// runSweep evicts expired state from every store in one bounded pass
func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	total := 0

	if removed, err := s.rateLimits.Sweep(sweepCtx, s.rateLimitRetention); err == nil {
		total += removed
	}

	if removed, err := s.attempts.Sweep(sweepCtx); err == nil {
		total += removed
	}

	if removed, err := s.captchas.Sweep(sweepCtx); err == nil {
		total += removed
	}

	if removed, err := s.geo.Sweep(sweepCtx); err == nil {
		total += removed
	}

	cutoff := s.clock.Now().Add(-s.eventRetention)
	rowsDeleted, err := s.events.DeleteOlderThan(sweepCtx, cutoff)
	if err != nil {
		s.logger.Error("failed to trim security events", slog.Any("error", err))
	}

	if total > 0 || rowsDeleted > 0 {
		s.logger.Info("state sweep completed",
			slog.Int("entries_evicted", total),
			slog.Int64("events_deleted", rowsDeleted))
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
