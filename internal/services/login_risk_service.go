package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// LoginLocationStore is the append-only login history. Append assigns
// Seq in strict insertion order, so "most recent prior login" is
// unambiguous even when two logins share a timestamp. Listings return
// newest first.
type LoginLocationStore interface {
	Append(ctx context.Context, event *models.LoginLocationEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error)
	ListUnusual(ctx context.Context, since time.Time, limit int) ([]models.LoginLocationEvent, error)
}

// LocationResolver is the slice of the geolocation service the risk
// detector depends on.
type LocationResolver interface {
	GetLocation(ctx context.Context, ip string) (*models.GeoLocation, error)
	CalculateDistance(lat1, lon1, lat2, lon2 float64) float64
}

// RiskConfig holds the thresholds for login risk classification
type RiskConfig struct {
	HistoryLimit        int
	ImpossibleSpeedKmh  float64
	MinTravelDistanceKm float64
	DistantThresholdKm  float64
	NewCityMinHistory   int
}

// LoginRiskService classifies each login against the account's
// location history and records the outcome.
type LoginRiskService struct {
	store    LoginLocationStore
	resolver LocationResolver
	config   RiskConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewLoginRiskService creates a new LoginRiskService
func NewLoginRiskService(store LoginLocationStore, resolver LocationResolver, config RiskConfig, clk clock.Clock, logger *slog.Logger) *LoginRiskService {
	return &LoginRiskService{
		store:    store,
		resolver: resolver,
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// CheckLoginLocation resolves the login's location, runs the risk
// signals against the account's recent history, and appends the event
// to that history.
//
// When the location cannot be resolved the verdict is "unknown" and
// nothing is persisted, so unresolved logins leave no trace in the
// account's location timeline. A history read failure degrades to an
// empty history; a history write failure never alters the verdict.
func (s *LoginRiskService) CheckLoginLocation(ctx context.Context, userID, email, ipAddress, userAgent string) (*models.LoginRiskAssessment, error) {
	now := s.clock.Now()

	loc, err := s.resolver.GetLocation(ctx, ipAddress)
	if err != nil {
		s.logger.Warn("login location unresolved",
			slog.String("user_id", userID),
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return &models.LoginRiskAssessment{
			Status:    models.RiskStatusUnknown,
			Unusual:   false,
			RiskLevel: models.RiskLevelUnknown,
			Alerts:    []models.RiskAlert{},
		}, nil
	}

	history, err := s.store.ListByUser(ctx, userID, s.config.HistoryLimit)
	if err != nil {
		s.logger.Error("login history read failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		history = nil
	}

	alerts, unusual := s.evaluateSignals(loc, history, now)

	riskLevel := models.RiskLevelLow
	for _, alert := range alerts {
		riskLevel = riskLevel.Escalate(alert.Severity)
	}

	event := &models.LoginLocationEvent{
		ID:          uuid.New().String(),
		UserID:      userID,
		Email:       email,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Country:     loc.Country,
		CountryCode: loc.CountryCode,
		Region:      loc.Region,
		City:        loc.City,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		ISP:         loc.ISP,
		IsProxy:     loc.IsProxy,
		IsHosting:   loc.IsHosting,
		IsPrivate:   loc.IsPrivate,
		Unusual:     unusual,
		RiskLevel:   riskLevel,
		Alerts:      models.AlertList(alerts),
		CreatedAt:   now,
	}
	if err := s.store.Append(ctx, event); err != nil {
		metrics.HistoryWriteFailuresTotal.Inc()
		s.logger.Error("recording login location failed",
			slog.String("user_id", userID),
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
	}

	if unusual {
		metrics.UnusualLoginsTotal.WithLabelValues(string(riskLevel)).Inc()
		s.logger.Warn("unusual login detected",
			slog.String("user_id", userID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", ipAddress),
			slog.String("risk_level", string(riskLevel)),
			slog.Int("alerts", len(alerts)))
	}

	return &models.LoginRiskAssessment{
		Status:    models.RiskStatusChecked,
		Unusual:   unusual,
		RiskLevel: riskLevel,
		Alerts:    alerts,
		Location:  loc,
	}, nil
}

// evaluateSignals runs every detection rule and collects at most one
// alert per rule. Proxy and distant logins raise alerts without
// marking the login unusual; hosting networks, new countries, and
// impossible travel do both. A new city is informational only.
func (s *LoginRiskService) evaluateSignals(loc *models.GeoLocation, history []models.LoginLocationEvent, now time.Time) ([]models.RiskAlert, bool) {
	alerts := make([]models.RiskAlert, 0, 4)
	unusual := false

	if loc.IsProxy {
		alerts = append(alerts, models.RiskAlert{
			Type:     models.AlertTypeProxyDetected,
			Severity: models.RiskLevelMedium,
			Message:  fmt.Sprintf("Login through a proxy or VPN (%s)", loc.ISP),
		})
	}

	if loc.IsHosting {
		unusual = true
		alerts = append(alerts, models.RiskAlert{
			Type:     models.AlertTypeHostingProvider,
			Severity: models.RiskLevelHigh,
			Message:  fmt.Sprintf("Login from a hosting provider network (%s)", loc.ISP),
		})
	}

	if len(history) > 0 && loc.Country != models.LocalCountryName && !countrySeen(history, loc.Country) {
		unusual = true
		alerts = append(alerts, models.RiskAlert{
			Type:     models.AlertTypeNewCountry,
			Severity: models.RiskLevelHigh,
			Message:  fmt.Sprintf("Login from a new country: %s", loc.Country),
		})
	}

	// Travel signals compare against the most recent prior login with
	// usable coordinates. Impossible travel wins over distance alone.
	if prior := latestLocated(history); prior != nil && !loc.IsPrivate {
		distance := s.resolver.CalculateDistance(prior.Latitude, prior.Longitude, loc.Latitude, loc.Longitude)
		hours := now.Sub(prior.CreatedAt).Hours()

		if hours > 0 && distance/hours > s.config.ImpossibleSpeedKmh && distance > s.config.MinTravelDistanceKm {
			unusual = true
			alerts = append(alerts, models.RiskAlert{
				Type:     models.AlertTypeImpossibleTravel,
				Severity: models.RiskLevelCritical,
				Message:  fmt.Sprintf("Travel from %s to %s would require %.0f km/h", prior.City, loc.City, distance/hours),
			})
		} else if distance > s.config.DistantThresholdKm {
			alerts = append(alerts, models.RiskAlert{
				Type:     models.AlertTypeDistantLocation,
				Severity: models.RiskLevelMedium,
				Message:  fmt.Sprintf("Login %.0f km away from the previous location", distance),
			})
		}
	}

	if len(history) >= s.config.NewCityMinHistory && loc.City != models.LocalCityName && !citySeen(history, loc.City) {
		alerts = append(alerts, models.RiskAlert{
			Type:     models.AlertTypeNewCity,
			Severity: models.RiskLevelLow,
			Message:  fmt.Sprintf("Login from a new city: %s", loc.City),
		})
	}

	return alerts, unusual
}

// GetUserLoginLocations returns the account's login history, newest
// first.
func (s *LoginRiskService) GetUserLoginLocations(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error) {
	if limit <= 0 || limit > s.config.HistoryLimit {
		limit = s.config.HistoryLimit
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// GetUnusualLogins returns unusual logins across all accounts within
// the past number of hours, newest first.
func (s *LoginRiskService) GetUnusualLogins(ctx context.Context, hours int, limit int) ([]models.LoginLocationEvent, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}
	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	return s.store.ListUnusual(ctx, since, limit)
}

// latestLocated finds the most recent event carrying real coordinates.
// Private logins and zero coordinates carry no geographic signal.
func latestLocated(history []models.LoginLocationEvent) *models.LoginLocationEvent {
	for i := range history {
		ev := &history[i]
		if ev.IsPrivate || ev.CreatedAt.IsZero() {
			continue
		}
		if ev.Latitude == 0 && ev.Longitude == 0 {
			continue
		}
		return ev
	}
	return nil
}

func countrySeen(history []models.LoginLocationEvent, country string) bool {
	for i := range history {
		if history[i].Country == country {
			return true
		}
	}
	return false
}

func citySeen(history []models.LoginLocationEvent, city string) bool {
	for i := range history {
		if history[i].City == city {
			return true
		}
	}
	return false
}
