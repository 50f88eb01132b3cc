package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
	pkgauth "github.com/evanmoreau/loginshield/pkg/auth"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, user *models.User) (*models.User, error)
}

// AuthService runs every login through the protection pipeline:
// lockout gate, captcha gate, credential check, location risk check,
// and risk-based MFA step-up.
type AuthService struct {
	users    UserRepository
	attempts *LoginAttemptService
	captcha  *CaptchaService
	risk     *LoginRiskService
	events   *SecurityEventService
	notifier *NotificationService
	tm       *auth.TokenManager
	totp     *auth.TOTPManager
	timing   *auth.TimingDelay
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	attempts *LoginAttemptService,
	captcha *CaptchaService,
	risk *LoginRiskService,
	events *SecurityEventService,
	notifier *NotificationService,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:    users,
		attempts: attempts,
		captcha:  captcha,
		risk:     risk,
		events:   events,
		notifier: notifier,
		tm:       tm,
		totp:     totp,
		timing:   timing,
		logger:   logger,
		audit:    audit,
	}
}

// LoginInput carries one login attempt through the pipeline.
type LoginInput struct {
	Email         string
	Password      string
	CaptchaToken  string
	CaptchaAnswer string
	TOTPCode      string
	IPAddress     string
	UserAgent     string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	MFAEnabled bool   `json:"mfa_enabled"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// RiskSummary is the slice of the login verdict surfaced to the client
type RiskSummary struct {
	Level   string `json:"level"`
	Unusual bool   `json:"unusual"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
	Risk         *RiskSummary  `json:"risk,omitempty"`
}

// Login authenticates a user and returns tokens.
//
// Gate order: lockout, captcha (once the failure threshold is met),
// credentials, location risk. A risky login from an MFA-enrolled
// account must additionally present a valid TOTP code. Failed gates
// are timing-equalized so their latency reveals nothing about which
// gate rejected.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	start := time.Now()
	success := false
	defer func() { s.timing.WaitFrom(start, success) }()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, models.ErrInvalidCredentials
	}

	// Lockout gate. A store failure falls through to the credential
	// check rather than rejecting the login.
	locked, remaining, err := s.attempts.IsAccountLocked(ctx, email)
	if err == nil && locked {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		s.recordEvent(ctx, models.SecurityEventLoginFailure, email, input, models.RiskLevelMedium, models.EventDetails{
			"reason":              "account_locked",
			"retry_after_seconds": int(remaining.Seconds()),
		})
		s.auditLogin(email, "", input, false, "account_locked")
		return nil, &models.AccountLockedError{RetryAfter: remaining}
	}

	// Captcha gate once the failure threshold is met.
	failures, err := s.attempts.FailedAttemptCount(ctx, email)
	if err == nil && s.captcha.RequiresCaptcha(failures) {
		if input.CaptchaToken == "" {
			metrics.LoginAttemptsTotal.WithLabelValues("captcha_required").Inc()
			return nil, models.ErrCaptchaRequired
		}
		ok, msg := s.captcha.VerifyChallenge(ctx, input.CaptchaToken, input.CaptchaAnswer, email)
		if !ok {
			metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			s.recordEvent(ctx, models.SecurityEventCaptchaFailed, email, input, models.RiskLevelLow, models.EventDetails{
				"message": msg,
			})
			return nil, fmt.Errorf("%w: %s", models.ErrCaptchaInvalid, msg)
		}
		s.recordEvent(ctx, models.SecurityEventCaptchaPassed, email, input, models.RiskLevelLow, nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Log login failure without exposing whether the account exists
			s.registerFailure(ctx, email, input, "invalid_credentials")
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.recordEvent(ctx, models.SecurityEventLoginFailure, email, input, models.RiskLevelMedium, models.EventDetails{
			"reason": "account_state",
			"status": user.Status,
		})
		s.auditLogin(email, user.ID, input, false, "account_state")
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		s.registerFailure(ctx, email, input, "invalid_credentials")
		return nil, models.ErrInvalidCredentials
	}

	// Location risk check. The verdict decides MFA step-up; evaluation
	// problems degrade to an unknown verdict and never block the login.
	assessment, err := s.risk.CheckLoginLocation(ctx, user.ID, email, input.IPAddress, input.UserAgent)
	if err != nil || assessment == nil {
		if err != nil {
			s.logger.Error("login risk check failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		assessment = &models.LoginRiskAssessment{
			Status:    models.RiskStatusUnknown,
			RiskLevel: models.RiskLevelUnknown,
			Alerts:    []models.RiskAlert{},
		}
	}

	if assessment.Unusual {
		s.recordEvent(ctx, models.SecurityEventUnusualLogin, email, input, assessment.RiskLevel, models.EventDetails{
			"risk_level": string(assessment.RiskLevel),
			"alerts":     alertTypes(assessment.Alerts),
		})
		if s.notifier != nil {
			s.notifier.NotifyUnusualLogin(email, input.IPAddress, assessment)
		}
	}

	// Risk-based MFA step-up for enrolled accounts.
	if user.MFAEnabled && assessment.RiskLevel.AtLeast(models.RiskLevelHigh) {
		if input.TOTPCode == "" {
			metrics.LoginAttemptsTotal.WithLabelValues("mfa_required").Inc()
			s.recordEvent(ctx, models.SecurityEventMFAChallenge, email, input, assessment.RiskLevel, models.EventDetails{
				"reason": "risk_step_up",
			})
			return nil, models.ErrMFARequired
		}

		valid, err := s.totp.ValidateTOTP(user.MFASecret, input.TOTPCode)
		if err != nil {
			s.logger.Error("totp validation failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		if err != nil || !valid {
			s.registerFailure(ctx, email, input, "invalid_mfa_code")
			return nil, models.ErrMFACodeInvalid
		}
	}

	if err := s.attempts.ClearAttempts(ctx, email); err != nil {
		s.logger.Error("failed to clear login failures", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.recordEvent(ctx, models.SecurityEventLoginSuccess, email, input, models.RiskLevelLow, models.EventDetails{
		"risk_level": string(assessment.RiskLevel),
		"unusual":    assessment.Unusual,
	})
	s.auditLogin(email, user.ID, input, true, "")
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	success = true
	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
		Risk: &RiskSummary{
			Level:   string(assessment.RiskLevel),
			Unusual: assessment.Unusual,
		},
	}, nil
}

// registerFailure records a failed attempt against the identifier and
// emits the matching security event.
func (s *AuthService) registerFailure(ctx context.Context, email string, input LoginInput, reason string) {
	metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()

	remaining, err := s.attempts.RecordFailedAttempt(ctx, email, input.IPAddress)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
	}

	details := models.EventDetails{"reason": reason}
	if err == nil {
		details["remaining_attempts"] = remaining
	}
	s.recordEvent(ctx, models.SecurityEventLoginFailure, email, input, models.RiskLevelLow, details)
	s.auditLogin(email, "", input, false, reason)

	if err == nil && remaining == 0 {
		s.recordEvent(ctx, models.SecurityEventAccountLockout, email, input, models.RiskLevelHigh, models.EventDetails{
			"reason": reason,
		})
	}
}

// RefreshToken generates a new token pair from a refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	// Verify it's a refresh token
	if claims.Type != auth.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("token refresh blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, models.ErrUnauthorized
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	newRefreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "token_refresh",
		UserID:    user.ID,
		Success:   true,
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// Register creates a new user account
func (s *AuthService) Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	// Check if user already exists
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
		Status:       "active",
	}

	createdUser, err := s.users.Create(ctx, user)
	if err != nil {
		s.logger.Error("failed to create user", slog.Any("error", err))
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(createdUser.ID, createdUser.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", createdUser.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(createdUser.ID, createdUser.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", createdUser.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", createdUser.ID))
	_ = s.events.RecordEvent(ctx, models.SecurityEventRegister, &email, strPtr(ipAddress), strPtr(userAgent), models.RiskLevelLow, nil)
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "register",
		UserID:    createdUser.ID,
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(createdUser),
	}, nil
}

func (s *AuthService) recordEvent(ctx context.Context, eventType, email string, input LoginInput, severity models.RiskLevel, details models.EventDetails) {
	_ = s.events.RecordEvent(ctx, eventType, &email, strPtr(input.IPAddress), strPtr(input.UserAgent), severity, details)
}

func (s *AuthService) auditLogin(email, userID string, input LoginInput, success bool, reason string) {
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login",
		UserID:        userID,
		Email:         email,
		IPAddress:     input.IPAddress,
		UserAgent:     input.UserAgent,
		Success:       success,
		FailureReason: reason,
	})
}

// validateAccountState checks if user account is in valid state for authentication
func validateAccountState(user *models.User) error {
	switch user.Status {
	case "disabled":
		return models.ErrAccountDisabled
	case "suspended":
		return models.ErrAccountSuspended
	case "active":
		return nil
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}
}

// userModelToResponse converts a user model to response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		MFAEnabled: user.MFAEnabled,
		CreatedAt:  user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  user.UpdatedAt.Format(time.RFC3339),
	}
}

func alertTypes(alerts []models.RiskAlert) []string {
	types := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		types = append(types, alert.Type)
	}
	return types
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
