package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/models"
	pkgauth "github.com/evanmoreau/loginshield/pkg/auth"
)

// MFAService handles TOTP enrollment for the risk-based step-up. It
// stores a single encrypted secret per user; there is no device
// inventory.
type MFAService struct {
	users  UserRepository
	totp   *auth.TOTPManager
	logger *slog.Logger
}

// NewMFAService creates a new MFAService
func NewMFAService(users UserRepository, totp *auth.TOTPManager, logger *slog.Logger) *MFAService {
	return &MFAService{
		users:  users,
		totp:   totp,
		logger: logger,
	}
}

// MFASetupResponse carries the provisioning QR for the authenticator app
type MFASetupResponse struct {
	QRCode string `json:"qr_code"`
}

// SetupMFA generates a fresh TOTP secret for the user and returns the
// provisioning QR as a PNG data URL. The secret is stored encrypted,
// but MFA stays disabled until the user proves possession of the
// authenticator via ActivateMFA. Calling setup again before activation
// replaces the pending secret.
func (s *MFAService) SetupMFA(ctx context.Context, userID string) (*MFASetupResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch user for mfa setup", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	encryptedSecret, qrCode, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user.MFASecret = encryptedSecret
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa setup initiated", slog.String("user_id", userID))
	return &MFASetupResponse{QRCode: qrCode}, nil
}

// ActivateMFA turns MFA on once the user submits a valid code generated
// from the pending secret.
func (s *MFAService) ActivateMFA(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to fetch user for mfa activation", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.MFAEnabled {
		return models.ErrConflict
	}
	if user.MFASecret == "" {
		return models.ErrMFANotConfigured
	}

	valid, err := s.totp.ValidateTOTP(user.MFASecret, code)
	if err != nil {
		s.logger.Error("totp validation failed during activation", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		s.logger.Warn("invalid totp code during activation", slog.String("user_id", userID))
		return models.ErrMFACodeInvalid
	}

	user.MFAEnabled = true
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to enable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa activated", slog.String("user_id", userID))
	return nil
}

// DisableMFA removes the TOTP enrollment after re-verifying the
// password.
func (s *MFAService) DisableMFA(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to fetch user for mfa disable", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.MFAEnabled {
		return models.ErrMFANotConfigured
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("mfa disable rejected: password mismatch", slog.String("user_id", userID))
		return models.ErrInvalidCredentials
	}

	user.MFAEnabled = false
	user.MFASecret = ""
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to disable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa disabled", slog.String("user_id", userID))
	return nil
}
