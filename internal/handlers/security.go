package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/models"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// LoginRiskReader defines the login history reads the handler needs
type LoginRiskReader interface {
	GetUserLoginLocations(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error)
	GetUnusualLogins(ctx context.Context, hours, limit int) ([]models.LoginLocationEvent, error)
}

// SecurityEventReader defines the event log reads the handler needs
type SecurityEventReader interface {
	GetRecentEvents(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
	GetEventsByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error)
}

// LockoutStatusReader reports the failed-login tracker state for one identifier
type LockoutStatusReader interface {
	Status(ctx context.Context, identifier string) (*models.LockoutStatus, error)
}

// SecurityHandler serves login history and security event reads
type SecurityHandler struct {
	risk     LoginRiskReader
	events   SecurityEventReader
	lockouts LockoutStatusReader
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(risk LoginRiskReader, events SecurityEventReader, lockouts LockoutStatusReader) *SecurityHandler {
	return &SecurityHandler{
		risk:     risk,
		events:   events,
		lockouts: lockouts,
	}
}

// LoginLocationResponse represents one login history entry in HTTP responses
type LoginLocationResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id,omitempty"`
	Email       string             `json:"email,omitempty"`
	IPAddress   string             `json:"ip_address"`
	Country     string             `json:"country"`
	CountryCode string             `json:"country_code,omitempty"`
	Region      string             `json:"region,omitempty"`
	City        string             `json:"city"`
	Latitude    float64            `json:"latitude"`
	Longitude   float64            `json:"longitude"`
	ISP         string             `json:"isp,omitempty"`
	IsProxy     bool               `json:"is_proxy"`
	IsHosting   bool               `json:"is_hosting"`
	IsPrivate   bool               `json:"is_private"`
	Unusual     bool               `json:"unusual"`
	RiskLevel   string             `json:"risk_level"`
	Alerts      []models.RiskAlert `json:"alerts"`
	CreatedAt   string             `json:"created_at"`
}

// SecurityEventResponse represents a security event in HTTP responses
type SecurityEventResponse struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Email     *string                `json:"email,omitempty"`
	IPAddress *string                `json:"ip_address,omitempty"`
	UserAgent *string                `json:"user_agent,omitempty"`
	Severity  string                 `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

// MyLogins retrieves the authenticated user's login history
// @Summary Get own login history
// @Security BearerAuth
// @Produce json
// @Success 200
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /security/logins [get]
func (h *SecurityHandler) MyLogins(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	limit := queryInt(r, "limit", 0)

	locations, err := h.risk.GetUserLoginLocations(r.Context(), claims.UserID, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	response := make([]*LoginLocationResponse, len(locations))
	for i := range locations {
		// Own history omits user/email, the caller already knows them
		response[i] = loginLocationToResponse(&locations[i], false)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"locations": response,
		"count":     len(response),
	})
}

// UnusualLogins retrieves unusual logins across all accounts (admin only)
// @Summary List unusual logins
// @Security BearerAuth
// @Param hours query int false "Lookback window in hours (default 24)"
// @Produce json
// @Success 200
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /security/unusual-logins [get]
func (h *SecurityHandler) UnusualLogins(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)

	logins, err := h.risk.GetUnusualLogins(r.Context(), hours, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	response := make([]*LoginLocationResponse, len(logins))
	for i := range logins {
		response[i] = loginLocationToResponse(&logins[i], true)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logins": response,
		"count":  len(response),
		"hours":  hours,
	})
}

// Events retrieves the security event log, optionally filtered by email (admin only)
// @Summary List security events
// @Security BearerAuth
// @Param email query string false "Filter by email"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param offset query int false "Page offset"
// @Produce json
// @Success 200
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /security/events [get]
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	var (
		events []*models.SecurityEvent
		err    error
	)
	if email != "" {
		events, err = h.events.GetEventsByEmail(r.Context(), email, limit, offset)
	} else {
		events, err = h.events.GetRecentEvents(r.Context(), limit, offset)
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	response := make([]*SecurityEventResponse, len(events))
	for i, event := range events {
		response[i] = securityEventToResponse(event)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": response,
		"count":  len(response),
		"limit":  limit,
		"offset": offset,
	})
}

// LockoutStatus reports the failed-login tracker state for an identifier (admin only)
// @Summary Get lockout status for an identifier
// @Security BearerAuth
// @Param email query string true "Identifier to inspect"
// @Produce json
// @Success 200 {object} models.LockoutStatus
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /security/lockouts [get]
func (h *SecurityHandler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		pkghttp.WriteBadRequest(w, "email query parameter is required")
		return
	}

	status, err := h.lockouts.Status(r.Context(), email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// queryInt parses a non-negative integer query parameter with a fallback
func queryInt(r *http.Request, key string, defaultVal int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return defaultVal
}

// loginLocationToResponse converts a history event to a response DTO
func loginLocationToResponse(event *models.LoginLocationEvent, includeOwner bool) *LoginLocationResponse {
	resp := &LoginLocationResponse{
		ID:          event.ID,
		IPAddress:   event.IPAddress,
		Country:     event.Country,
		CountryCode: event.CountryCode,
		Region:      event.Region,
		City:        event.City,
		Latitude:    event.Latitude,
		Longitude:   event.Longitude,
		ISP:         event.ISP,
		IsProxy:     event.IsProxy,
		IsHosting:   event.IsHosting,
		IsPrivate:   event.IsPrivate,
		Unusual:     event.Unusual,
		RiskLevel:   string(event.RiskLevel),
		Alerts:      event.Alerts,
		CreatedAt:   event.CreatedAt.Format(time.RFC3339),
	}

	if includeOwner {
		resp.UserID = event.UserID
		resp.Email = event.Email
	}

	return resp
}

// securityEventToResponse converts a security event to a response DTO
func securityEventToResponse(event *models.SecurityEvent) *SecurityEventResponse {
	return &SecurityEventResponse{
		ID:        event.ID.String(),
		EventType: event.EventType,
		Email:     event.Email,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Severity:  string(event.Severity),
		Details:   event.Details,
		CreatedAt: event.CreatedAt.Format(time.RFC3339),
	}
}
