package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
)

// LockoutStore owns the per-identifier failure windows and lockout
// expiries. RecordFailure is a compound prune-append-count-lock so the
// whole sequence stays atomic per identifier.
type LockoutStore interface {
	RecordFailure(ctx context.Context, identifier string, now time.Time, window time.Duration, maxAttempts int, lockoutDuration time.Duration) (count int, locked bool, err error)
	CountFailures(ctx context.Context, identifier string, now time.Time, window time.Duration) (int, error)
	LockState(ctx context.Context, identifier string, now time.Time) (locked bool, remaining time.Duration, err error)
	Clear(ctx context.Context, identifier string) error
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// LockoutNotifier receives fire-and-forget lockout alerts. It must
// never block: the tracker calls it on the login request path.
type LockoutNotifier interface {
	NotifyLockout(identifier, ipAddress string, lockedUntil time.Time)
}

// LoginAttemptConfig holds configuration for failed-login tracking
type LoginAttemptConfig struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// LoginAttemptService tracks failed logins per identifier in a sliding
// window and locks accounts that cross the threshold.
//
// Per identifier the state machine is CLEAN -> ACCUMULATING -> LOCKED,
// back to CLEAN when the lockout expires or a successful login clears
// it. Failures are not reset by locking; they reset when the lock
// expires.
type LoginAttemptService struct {
	store    LockoutStore
	notifier LockoutNotifier
	config   LoginAttemptConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewLoginAttemptService creates a new LoginAttemptService. notifier
// may be nil, in which case lockout alerts are skipped.
func NewLoginAttemptService(store LockoutStore, notifier LockoutNotifier, config LoginAttemptConfig, clk clock.Clock, logger *slog.Logger) *LoginAttemptService {
	return &LoginAttemptService{
		store:    store,
		notifier: notifier,
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// RecordFailedAttempt registers one failed login and returns how many
// attempts remain before lockout, never negative. Crossing the
// threshold arms the lockout and dispatches an alert; alert delivery is
// fire-and-forget and cannot fail this call.
func (s *LoginAttemptService) RecordFailedAttempt(ctx context.Context, identifier, ipAddress string) (int, error) {
	now := s.clock.Now()

	count, locked, err := s.store.RecordFailure(ctx, identifier, now, s.config.Window, s.config.MaxAttempts, s.config.LockoutDuration)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("identifier", identifier), slog.Any("error", err))
		return 0, err
	}

	remaining := s.config.MaxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	if locked {
		lockedUntil := now.Add(s.config.LockoutDuration)
		s.logger.Warn("account locked after repeated login failures",
			slog.String("identifier", identifier),
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", count),
			slog.Time("locked_until", lockedUntil))
		metrics.LockoutsTotal.Inc()

		if s.notifier != nil {
			s.notifier.NotifyLockout(identifier, ipAddress, lockedUntil)
		}
	}

	return remaining, nil
}

// IsAccountLocked reports whether the identifier is locked and for how
// much longer. An expired lock is removed and its failure history
// cleared before answering.
func (s *LoginAttemptService) IsAccountLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	locked, remaining, err := s.store.LockState(ctx, identifier, s.clock.Now())
	if err != nil {
		s.logger.Error("failed to check lockout state", slog.String("identifier", identifier), slog.Any("error", err))
		return false, 0, err
	}
	return locked, remaining, nil
}

// FailedAttemptCount returns the number of failures currently inside
// the attempt window. Callers use it to decide whether a captcha is
// required.
func (s *LoginAttemptService) FailedAttemptCount(ctx context.Context, identifier string) (int, error) {
	count, err := s.store.CountFailures(ctx, identifier, s.clock.Now(), s.config.Window)
	if err != nil {
		s.logger.Error("failed to count login failures", slog.String("identifier", identifier), slog.Any("error", err))
		return 0, err
	}
	return count, nil
}

// ClearAttempts wipes both the failure window and any lockout for the
// identifier. Called on successful authentication.
func (s *LoginAttemptService) ClearAttempts(ctx context.Context, identifier string) error {
	if err := s.store.Clear(ctx, identifier); err != nil {
		s.logger.Error("failed to clear login failures", slog.String("identifier", identifier), slog.Any("error", err))
		return err
	}
	return nil
}

// Status assembles the tracker's current view of one identifier for
// response payloads.
func (s *LoginAttemptService) Status(ctx context.Context, identifier string) (*models.LockoutStatus, error) {
	now := s.clock.Now()

	locked, remaining, err := s.store.LockState(ctx, identifier, now)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountFailures(ctx, identifier, now, s.config.Window)
	if err != nil {
		return nil, err
	}

	remainingAttempts := s.config.MaxAttempts - count
	if remainingAttempts < 0 {
		remainingAttempts = 0
	}

	status := &models.LockoutStatus{
		Identifier:        identifier,
		FailedCount:       count,
		RemainingAttempts: remainingAttempts,
		Locked:            locked,
	}
	if locked {
		until := now.Add(remaining)
		status.LockedUntil = &until
	}
	return status, nil
}

// Sweep prunes stale failure windows and expired locks so identifiers
// seen once do not accumulate forever.
func (s *LoginAttemptService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx, s.clock.Now(), s.config.Window)
	if err != nil {
		s.logger.Error("lockout sweep failed", slog.Any("error", err))
		return 0, err
	}
	return removed, nil
}
