package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/services"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with a JSON body
func newTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withAuthContext injects access-token claims the way AuthMiddleware would
func withAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// assertJSONResponse checks status and content type, then decodes the body
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "failed to decode response JSON")
	}
}

// assertErrorResponse checks status and the machine-readable error code
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "error code mismatch")
	assert.NotEmpty(t, resp.Message, "error message should not be empty")
}

// mockAuthService implements handlers.AuthServiceInterface
type mockAuthService struct {
	LoginFunc        func(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error)
	RegisterFunc     func(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)

	LastLoginInput *services.LoginInput
}

func (m *mockAuthService) Login(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error) {
	m.LastLoginInput = &input
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, input)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.AuthResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name, ipAddress, userAgent)
}

func (m *mockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

// mockCaptchaService implements handlers.CaptchaServiceInterface
type mockCaptchaService struct {
	GenerateChallengeFunc func(ctx context.Context, email string) (*models.CaptchaChallenge, error)
}

func (m *mockCaptchaService) GenerateChallenge(ctx context.Context, email string) (*models.CaptchaChallenge, error) {
	if m.GenerateChallengeFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.GenerateChallengeFunc(ctx, email)
}

// recordedEvent captures one RecordEvent call
type recordedEvent struct {
	EventType string
	Email     *string
	IPAddress *string
	UserAgent *string
	Severity  models.RiskLevel
	Details   models.EventDetails
}

// mockEventRecorder implements handlers.SecurityEventRecorder
type mockEventRecorder struct {
	Events []recordedEvent
	Err    error
}

func (m *mockEventRecorder) RecordEvent(ctx context.Context, eventType string, email, ipAddress, userAgent *string, severity models.RiskLevel, details models.EventDetails) error {
	m.Events = append(m.Events, recordedEvent{
		EventType: eventType,
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Severity:  severity,
		Details:   details,
	})
	return m.Err
}

// mockMFAService implements handlers.MFAServiceInterface
type mockMFAService struct {
	SetupMFAFunc    func(ctx context.Context, userID string) (*services.MFASetupResponse, error)
	ActivateMFAFunc func(ctx context.Context, userID, code string) error
	DisableMFAFunc  func(ctx context.Context, userID, password string) error
}

func (m *mockMFAService) SetupMFA(ctx context.Context, userID string) (*services.MFASetupResponse, error) {
	if m.SetupMFAFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetupMFAFunc(ctx, userID)
}

func (m *mockMFAService) ActivateMFA(ctx context.Context, userID, code string) error {
	if m.ActivateMFAFunc == nil {
		return models.ErrMFANotConfigured
	}
	return m.ActivateMFAFunc(ctx, userID, code)
}

func (m *mockMFAService) DisableMFA(ctx context.Context, userID, password string) error {
	if m.DisableMFAFunc == nil {
		return models.ErrMFANotConfigured
	}
	return m.DisableMFAFunc(ctx, userID, password)
}

// mockRiskReader implements handlers.LoginRiskReader
type mockRiskReader struct {
	LocationsFunc func(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error)
	UnusualFunc   func(ctx context.Context, hours, limit int) ([]models.LoginLocationEvent, error)
}

func (m *mockRiskReader) GetUserLoginLocations(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error) {
	if m.LocationsFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.LocationsFunc(ctx, userID, limit)
}

func (m *mockRiskReader) GetUnusualLogins(ctx context.Context, hours, limit int) ([]models.LoginLocationEvent, error) {
	if m.UnusualFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.UnusualFunc(ctx, hours, limit)
}

// mockEventReader implements handlers.SecurityEventReader
type mockEventReader struct {
	RecentFunc  func(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
	ByEmailFunc func(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error)
}

func (m *mockEventReader) GetRecentEvents(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.RecentFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.RecentFunc(ctx, limit, offset)
}

func (m *mockEventReader) GetEventsByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ByEmailFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ByEmailFunc(ctx, email, limit, offset)
}

// mockLockoutReader implements handlers.LockoutStatusReader
type mockLockoutReader struct {
	StatusFunc func(ctx context.Context, identifier string) (*models.LockoutStatus, error)
}

func (m *mockLockoutReader) Status(ctx context.Context, identifier string) (*models.LockoutStatus, error) {
	if m.StatusFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.StatusFunc(ctx, identifier)
}
