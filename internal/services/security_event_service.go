package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/repositories"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// SecurityEventService records security events with a dual-write
// pattern (slog + database). Persistence failures are logged and
// swallowed so the calling flow never fails on audit I/O.
type SecurityEventService struct {
	repo   repositories.SecurityEventRepository
	logger *slog.Logger
}

// NewSecurityEventService creates a new SecurityEventService
func NewSecurityEventService(repo repositories.SecurityEventRepository, logger *slog.Logger) *SecurityEventService {
	return &SecurityEventService{
		repo:   repo,
		logger: logger,
	}
}

// RecordEvent writes one security event to the log stream and the
// database. The returned error is always nil for persistence failures;
// callers treat event recording as fire-and-forget.
func (s *SecurityEventService) RecordEvent(ctx context.Context, eventType string, email, ipAddress, userAgent *string, severity models.RiskLevel, details models.EventDetails) error {
	event := &models.SecurityEvent{
		EventType: eventType,
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Severity:  severity,
		Details:   details,
	}

	// Dual-write: immediate slog output
	attrs := []any{
		slog.String("event_type", eventType),
		slog.String("severity", string(severity)),
		slog.Any("details", details),
	}
	if email != nil {
		attrs = append(attrs, slog.String("email", pkglogger.SanitizedEmail(*email)))
	}
	if ipAddress != nil {
		attrs = append(attrs, slog.String("ip_address", *ipAddress))
	}

	switch severity {
	case models.RiskLevelLow:
		s.logger.InfoContext(ctx, "security event", attrs...)
	default:
		s.logger.WarnContext(ctx, "security event", attrs...)
	}

	// Persist to database (non-blocking)
	_, err := s.repo.Create(ctx, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
		// Non-critical: don't fail the caller if event persistence fails
		return nil
	}

	return nil
}

// GetRecentEvents retrieves the newest security events
func (s *SecurityEventService) GetRecentEvents(ctx context.Context, limit int, offset int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get security events: %w", err)
	}

	return events, nil
}

// GetEventsByEmail retrieves security events recorded for an email
func (s *SecurityEventService) GetEventsByEmail(ctx context.Context, email string, limit int, offset int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.ListByEmail(ctx, email, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get security events: %w", err)
	}

	return events, nil
}
