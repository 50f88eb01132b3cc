package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/services"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// MFAServiceInterface defines the MFA operations the handler needs
type MFAServiceInterface interface {
	SetupMFA(ctx context.Context, userID string) (*services.MFASetupResponse, error)
	ActivateMFA(ctx context.Context, userID, code string) error
	DisableMFA(ctx context.Context, userID, password string) error
}

// MFAHandler handles MFA enrollment HTTP requests
type MFAHandler struct {
	service MFAServiceInterface
	logger  *slog.Logger
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service: service,
		logger:  logger,
	}
}

// ActivateMFARequest represents the MFA activation payload
type ActivateMFARequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

// DisableMFARequest represents the MFA disable payload
type DisableMFARequest struct {
	Password string `json:"password" validate:"required"`
}

// Setup generates a TOTP secret and provisioning QR code for the caller
// @Summary Begin MFA enrollment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.MFASetupResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/mfa/setup [post]
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	response, err := h.service.SetupMFA(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		default:
			h.logger.Error("mfa setup failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Activate confirms enrollment with a code from the authenticator app
// @Summary Activate MFA
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/mfa/activate [post]
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ActivateMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ActivateMFA(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		case errors.Is(err, models.ErrMFANotConfigured):
			pkghttp.WriteBadRequest(w, "MFA setup has not been started")
		case errors.Is(err, models.ErrMFACodeInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid one-time code")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		default:
			h.logger.Error("mfa activation failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mfa_enabled": true,
	})
}

// Disable turns MFA off after re-verifying the account password
// @Summary Disable MFA
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/mfa/disable [post]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req DisableMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.DisableMFA(r.Context(), claims.UserID, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrMFANotConfigured):
			pkghttp.WriteBadRequest(w, "MFA is not enabled")
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		default:
			h.logger.Error("mfa disable failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mfa_enabled": false,
	})
}
