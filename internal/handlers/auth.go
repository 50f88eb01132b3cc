package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/services"
	pkgauth "github.com/evanmoreau/loginshield/pkg/auth"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login. Captcha fields
// are required only once the account has crossed the failure threshold;
// the TOTP code only when the risk verdict forces a step-up.
type LoginRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	CaptchaToken  string `json:"captcha_token,omitempty"`
	CaptchaAnswer string `json:"captcha_answer,omitempty"`
	TOTPCode      string `json:"totp_code,omitempty" validate:"omitempty,numeric"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Validate request
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Login(r.Context(), services.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		CaptchaToken:  req.CaptchaToken,
		CaptchaAnswer: req.CaptchaAnswer,
		TOTPCode:      req.TOTPCode,
		IPAddress:     pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	})
	if err != nil {
		var locked *models.AccountLockedError
		switch {
		case errors.As(err, &locked):
			pkghttp.WriteAccountLocked(w, int(locked.RetryAfter.Seconds()),
				"Too many failed login attempts. Please try again later.")
		case errors.Is(err, models.ErrCaptchaRequired):
			pkghttp.WriteError(w, http.StatusForbidden, "captcha_required",
				"Please complete a captcha challenge and retry.")
		case errors.Is(err, models.ErrCaptchaInvalid):
			pkghttp.WriteError(w, http.StatusForbidden, "captcha_invalid",
				"Captcha verification failed. Request a new challenge if yours expired.")
		case errors.Is(err, models.ErrMFARequired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_required",
				"This login requires a one-time code from your authenticator app.")
		case errors.Is(err, models.ErrMFACodeInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_code_invalid",
				"Invalid one-time code.")
		case errors.Is(err, models.ErrInvalidCredentials),
			errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrAccountDisabled),
			errors.Is(err, models.ErrAccountSuspended):
			// Return generic error for all account status issues to prevent user enumeration
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Validate request
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.Register(r.Context(),
		req.Email, req.Password, req.Name,
		pkghttp.ExtractClientIP(r, h.ipConfig), r.Header.Get("User-Agent"))
	if err != nil {
		// Conflicts and password rejections get the same generic response
		// as success to prevent user enumeration
		var pwErr *pkgauth.PasswordValidationError
		if errors.Is(err, models.ErrConflict) || errors.As(err, &pwErr) {
			writeRegisterAccepted(w)
			return
		}

		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeRegisterAccepted(w)
}

func writeRegisterAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Registration received. If the email is not already registered, the account is now active and you can sign in.",
	})
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Validate request
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrAccountDisabled),
			errors.Is(err, models.ErrAccountSuspended):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}
