package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/evanmoreau/loginshield/internal/models"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// CaptchaServiceInterface defines the captcha operations the handler needs
type CaptchaServiceInterface interface {
	GenerateChallenge(ctx context.Context, email string) (*models.CaptchaChallenge, error)
}

// SecurityEventRecorder records security events from the HTTP layer
type SecurityEventRecorder interface {
	RecordEvent(ctx context.Context, eventType string, email, ipAddress, userAgent *string, severity models.RiskLevel, details models.EventDetails) error
}

// CaptchaHandler issues math challenges for accounts under the
// failure-triggered captcha gate.
type CaptchaHandler struct {
	service  CaptchaServiceInterface
	events   SecurityEventRecorder
	ipConfig *pkghttp.IPConfig
}

// NewCaptchaHandler creates a new CaptchaHandler
func NewCaptchaHandler(service CaptchaServiceInterface, events SecurityEventRecorder, ipConfig *pkghttp.IPConfig) *CaptchaHandler {
	return &CaptchaHandler{
		service:  service,
		events:   events,
		ipConfig: ipConfig,
	}
}

// CaptchaRequest represents the request body for a new challenge
type CaptchaRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Generate issues a new captcha challenge
// @Summary Request a captcha challenge
// @Accept json
// @Param request body CaptchaRequest true "Captcha request"
// @Produce json
// @Success 200 {object} models.CaptchaChallenge
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/captcha [post]
func (h *CaptchaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req CaptchaRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Validate request
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	challenge, err := h.service.GenerateChallenge(r.Context(), req.Email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")
	_ = h.events.RecordEvent(r.Context(), models.SecurityEventCaptchaIssued,
		&req.Email, &ipAddress, &userAgent, models.RiskLevelLow, models.EventDetails{
			"type": challenge.Type,
		})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(challenge)
}
