package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
)

// GeoCache stores resolved locations with a TTL. Only successful
// lookups are ever cached.
type GeoCache interface {
	Get(ctx context.Context, ip string, now time.Time) (*models.GeoLocation, bool, error)
	Put(ctx context.Context, ip string, loc *models.GeoLocation, expiresAt time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// GeoProvider performs the external IP lookup.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (*models.GeoLocation, error)
}

// GeoConfig holds configuration for location resolution
type GeoConfig struct {
	ProviderTimeout time.Duration
	CacheTTL        time.Duration
	MaxCalls        int
	CallWindow      time.Duration
}

// GeoLocationService resolves IPs to locations with a private-IP fast
// path, a TTL cache, and a self-imposed budget on provider calls.
type GeoLocationService struct {
	cache    GeoCache
	provider GeoProvider
	throttle *callThrottle
	config   GeoConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewGeoLocationService creates a new GeoLocationService
func NewGeoLocationService(cache GeoCache, provider GeoProvider, config GeoConfig, clk clock.Clock, logger *slog.Logger) *GeoLocationService {
	return &GeoLocationService{
		cache:    cache,
		provider: provider,
		throttle: newCallThrottle(config.MaxCalls, config.CallWindow),
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// GetLocation resolves the IP to a location record.
//
// Private and loopback addresses short-circuit to a synthetic "Local"
// record without touching the provider or the call budget. Cached
// entries are served while fresh. When the provider budget for the
// rolling window is spent, the call blocks until a slot frees; this is
// the engine's only suspension point and it honors ctx cancellation.
// Failed lookups return an error and are never cached.
func (s *GeoLocationService) GetLocation(ctx context.Context, ip string) (*models.GeoLocation, error) {
	now := s.clock.Now()

	if isPrivateIP(ip) {
		metrics.GeoLookupsTotal.WithLabelValues("private").Inc()
		return models.PrivateLocation(ip, now), nil
	}

	if loc, found, err := s.cache.Get(ctx, ip, now); err != nil {
		s.logger.Error("geo cache read failed", slog.String("ip_address", ip), slog.Any("error", err))
	} else if found {
		metrics.GeoLookupsTotal.WithLabelValues("cache").Inc()
		return loc, nil
	}

	if err := s.throttle.acquire(ctx, s.clock); err != nil {
		metrics.GeoLookupsTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("waiting for lookup slot: %w", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	loc, err := s.provider.Lookup(lookupCtx, ip)
	if err != nil {
		s.logger.Warn("geolocation lookup failed",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		metrics.GeoLookupsTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("lookup %s: %w", ip, models.ErrGeoLookupFailed)
	}

	loc.IP = ip
	loc.ResolvedAt = now

	if err := s.cache.Put(ctx, ip, loc, now.Add(s.config.CacheTTL)); err != nil {
		s.logger.Error("geo cache write failed", slog.String("ip_address", ip), slog.Any("error", err))
	}

	metrics.GeoLookupsTotal.WithLabelValues("provider").Inc()
	return loc, nil
}

// CalculateDistance returns the great-circle distance in kilometers
// between two coordinates.
func (s *GeoLocationService) CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineKm(lat1, lon1, lat2, lon2)
}

// Sweep removes expired cache entries.
func (s *GeoLocationService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.cache.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("geo cache sweep failed", slog.Any("error", err))
		return 0, err
	}
	return removed, nil
}

// haversineKm computes the Haversine distance with Earth radius
// 6371 km.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// isPrivateIP reports whether the address is private, loopback, or
// otherwise unresolvable. These never reach the external provider.
func isPrivateIP(ip string) bool {
	if ip == "" || ip == "unknown" || ip == "localhost" {
		return true
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	addr = addr.Unmap()

	// 0.0.0.0/8 is "this network", never a routable client.
	if addr.Is4() && addr.As4()[0] == 0 {
		return true
	}

	return addr.IsPrivate() || addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// callThrottle caps external provider calls to a budget per rolling
// window. Exhausted callers block until the oldest call ages out.
type callThrottle struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  []time.Time
}

func newCallThrottle(max int, window time.Duration) *callThrottle {
	return &callThrottle{max: max, window: window}
}

// acquire claims a call slot, sleeping until one frees or ctx is done.
func (t *callThrottle) acquire(ctx context.Context, clk clock.Clock) error {
	for {
		t.mu.Lock()
		now := clk.Now()
		t.calls = pruneBefore(t.calls, now.Add(-t.window))

		if len(t.calls) < t.max {
			t.calls = append(t.calls, now)
			t.mu.Unlock()
			return nil
		}

		wait := t.calls[0].Add(t.window).Sub(now)
		t.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
