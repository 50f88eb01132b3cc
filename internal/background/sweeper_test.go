package background

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/services"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubEventRepo struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (s *stubEventRepo) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	return event, nil
}

func (s *stubEventRepo) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	return nil, nil
}

func (s *stubEventRepo) ListByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error) {
	return nil, nil
}

func (s *stubEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.deleted, s.err
}

type stubGeoProvider struct {
	loc models.GeoLocation
}

func (s *stubGeoProvider) Lookup(ctx context.Context, ip string) (*models.GeoLocation, error) {
	loc := s.loc
	return &loc, nil
}

// sweeperFixture wires a sweeper over real in-memory stores so the test
// can seed state through the public service APIs.
type sweeperFixture struct {
	sweeper    *Sweeper
	clk        *clock.Fake
	rateLimits *services.RateLimitService
	attempts   *services.LoginAttemptService
	captchas   *services.CaptchaService
	geo        *services.GeoLocationService
	events     *stubEventRepo
	logs       *bytes.Buffer
}

func newSweeperFixture(t *testing.T, events *stubEventRepo) *sweeperFixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rateLimits := services.NewRateLimitService(services.NewMemoryRateLimitStore(), clk, quietLogger)
	attempts := services.NewLoginAttemptService(services.NewMemoryLockoutStore(), nil, services.LoginAttemptConfig{
		MaxAttempts:     5,
		Window:          5 * time.Minute,
		LockoutDuration: 15 * time.Minute,
	}, clk, quietLogger)
	captchas := services.NewCaptchaService(services.NewMemoryCaptchaStore(), services.CaptchaConfig{
		FailureThreshold: 3,
		TTL:              2 * time.Minute,
	}, clk, quietLogger)
	geo := services.NewGeoLocationService(services.NewMemoryGeoCache(), &stubGeoProvider{
		loc: models.GeoLocation{Country: "Germany", CountryCode: "DE", City: "Berlin", Latitude: 52.52, Longitude: 13.405},
	}, services.GeoConfig{
		ProviderTimeout: time.Second,
		CacheTTL:        10 * time.Minute,
		MaxCalls:        5,
		CallWindow:      time.Minute,
	}, clk, quietLogger)

	logs := &bytes.Buffer{}
	sweeper := NewSweeper(rateLimits, attempts, captchas, geo, events, clk, &config.SweepConfig{
		Interval:       time.Hour,
		EventRetention: 90 * 24 * time.Hour,
	}, time.Minute, slog.New(slog.NewJSONHandler(logs, nil)))

	return &sweeperFixture{
		sweeper:    sweeper,
		clk:        clk,
		rateLimits: rateLimits,
		attempts:   attempts,
		captchas:   captchas,
		geo:        geo,
		events:     events,
		logs:       logs,
	}
}

// logLine finds the first decoded log record with the given message.
func logLine(t *testing.T, logs *bytes.Buffer, msg string) map[string]any {
	t.Helper()

	for _, raw := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if raw == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &record))
		if record["msg"] == msg {
			return record
		}
	}
	t.Fatalf("no log line with msg %q in %s", msg, logs.String())
	return nil
}

func TestSweeper_EvictsExpiredStateAcrossStores(t *testing.T) {
	events := &stubEventRepo{deleted: 3}
	f := newSweeperFixture(t, events)
	ctx := context.Background()

	// One rate limit window, one IP block, one login failure, one
	// captcha, one cached geo entry. All expire well before the sweep.
	_, err := f.rateLimits.IsRateLimited(ctx, "203.0.113.8:/auth/login", 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.rateLimits.BlockIP(ctx, "198.51.100.3", 5*time.Minute))
	_, err = f.attempts.RecordFailedAttempt(ctx, "stale@example.com", "203.0.113.8")
	require.NoError(t, err)
	_, err = f.captchas.GenerateChallenge(ctx, "stale@example.com")
	require.NoError(t, err)
	_, err = f.geo.GetLocation(ctx, "203.0.113.8")
	require.NoError(t, err)

	f.clk.Advance(30 * time.Minute)

	// Touched after the advance, so it must survive the sweep.
	_, err = f.rateLimits.IsRateLimited(ctx, "203.0.113.99:/auth/login", 10, time.Minute)
	require.NoError(t, err)

	f.sweeper.runSweep(ctx)

	line := logLine(t, f.logs, "state sweep completed")
	assert.Equal(t, float64(5), line["entries_evicted"], "window + block + failure + captcha + geo entry")
	assert.Equal(t, float64(3), line["events_deleted"])

	require.Len(t, events.cutoffs, 1)
	wantCutoff := f.clk.Now().Add(-90 * 24 * time.Hour)
	assert.True(t, events.cutoffs[0].Equal(wantCutoff), "cutoff %v, want %v", events.cutoffs[0], wantCutoff)

	// The fresh window survived; a second sweep finds nothing left.
	f.logs.Reset()
	f.clk.Advance(2 * time.Minute)
	f.sweeper.runSweep(ctx)
	line = logLine(t, f.logs, "state sweep completed")
	assert.Equal(t, float64(1), line["entries_evicted"])
}

func TestSweeper_LogsEventTrimFailure(t *testing.T) {
	events := &stubEventRepo{err: errors.New("connection reset")}
	f := newSweeperFixture(t, events)

	f.sweeper.runSweep(context.Background())

	line := logLine(t, f.logs, "failed to trim security events")
	assert.Equal(t, "ERROR", line["level"])
	assert.NotContains(t, f.logs.String(), "state sweep completed")
}

func TestSweeper_StopTerminatesLoop(t *testing.T) {
	f := newSweeperFixture(t, &stubEventRepo{})

	done := make(chan struct{})
	go func() {
		f.sweeper.Start(context.Background())
		close(done)
	}()

	f.sweeper.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_ContextCancelTerminatesLoop(t *testing.T) {
	f := newSweeperFixture(t, &stubEventRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
