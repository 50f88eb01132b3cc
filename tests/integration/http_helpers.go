package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/evanmoreau/loginshield/internal/database"
	"github.com/evanmoreau/loginshield/internal/handlers"
	middlewareCustom "github.com/evanmoreau/loginshield/internal/middleware"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/routes"
	"github.com/evanmoreau/loginshield/internal/services"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// MockNoticeSender captures dispatched security notices for assertions.
type MockNoticeSender struct {
	mu      sync.Mutex
	notices []services.Notice
}

func (m *MockNoticeSender) Channel() string { return "mock" }

func (m *MockNoticeSender) Send(ctx context.Context, notice services.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice)
	return nil
}

// Notices returns a copy of everything delivered so far.
func (m *MockNoticeSender) Notices() []services.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.Notice(nil), m.notices...)
}

// Well-known test IPs resolved by the stub geolocation provider. Tests
// steer the client IP through X-Forwarded-For, which the server trusts
// because the loopback peer is a configured trusted proxy.
const (
	BerlinIP = "203.0.113.10"
	TokyoIP  = "198.51.100.7"
)

// stubGeoProvider resolves the well-known test IPs to fixed locations
// so integration tests never call the real provider. Unknown public
// IPs resolve to Berlin.
type stubGeoProvider struct{}

func (stubGeoProvider) Lookup(ctx context.Context, ip string) (*models.GeoLocation, error) {
	loc := &models.GeoLocation{
		IP:          ip,
		Country:     "Germany",
		CountryCode: "DE",
		Region:      "BE",
		City:        "Berlin",
		Latitude:    52.52,
		Longitude:   13.405,
		ISP:         "Test ISP",
		ResolvedAt:  time.Now(),
	}
	if ip == TokyoIP {
		loc.Country = "Japan"
		loc.CountryCode = "JP"
		loc.Region = "13"
		loc.City = "Tokyo"
		loc.Latitude = 35.6762
		loc.Longitude = 139.6503
	}
	return loc, nil
}

// TestServer wires the full HTTP stack over a real database, with the
// geolocation provider stubbed and notifications captured in memory.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	Notices      *MockNoticeSender
	Config       *config.Config
	TokenManager *auth.TokenManager

	notifier *services.NotificationService
}

// NewTestServer initializes the production wiring against the given
// database. Timing delays are zeroed so tests run at full speed.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{"127.0.0.1/32", "::1/128"},
		},
		Auth: config.AuthConfig{
			JWTSecret:          "integration-test-secret-32-chars!!",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 24 * time.Hour,
			MFAEncryptionKey:   "0123456789abcdef0123456789abcdef",
		},
		RateLimit: config.RateLimitConfig{
			MaxRequests: 100,
			Window:      time.Minute,
			IPBlockTTL:  time.Hour,
		},
		Lockout: config.LockoutConfig{
			MaxAttempts:     5,
			Window:          5 * time.Minute,
			LockoutDuration: 15 * time.Minute,
		},
		Captcha: config.CaptchaConfig{
			FailureThreshold: 3,
			TTL:              5 * time.Minute,
		},
		Geo: config.GeoConfig{
			ProviderTimeout: 2 * time.Second,
			CacheTTL:        time.Hour,
			MaxCalls:        1000,
			CallWindow:      time.Minute,
		},
		Risk: config.RiskConfig{
			HistoryLimit:        50,
			ImpossibleSpeedKmh:  800,
			MinTravelDistanceKm: 100,
			DistantThresholdKm:  500,
			NewCityMinHistory:   3,
		},
	}

	userRepo, eventRepo, locationRepo := InitializeRepositories(db)
	clk := clock.Real{}

	notices := &MockNoticeSender{}
	notifier := services.NewNotificationService([]services.NoticeSender{notices}, userRepo, services.NotificationConfig{
		QueueSize:        32,
		Workers:          1,
		RetryBackoff:     10 * time.Millisecond,
		SecurityTeamAddr: "security-team@test.local",
	}, logger)
	notifier.Start()

	rateLimitService := services.NewRateLimitService(services.NewMemoryRateLimitStore(), clk, logger)

	attemptService := services.NewLoginAttemptService(services.NewMemoryLockoutStore(), notifier, services.LoginAttemptConfig{
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		Window:          cfg.Lockout.Window,
		LockoutDuration: cfg.Lockout.LockoutDuration,
	}, clk, logger)

	captchaService := services.NewCaptchaService(services.NewMemoryCaptchaStore(), services.CaptchaConfig{
		FailureThreshold: cfg.Captcha.FailureThreshold,
		TTL:              cfg.Captcha.TTL,
	}, clk, logger)

	geoService := services.NewGeoLocationService(services.NewMemoryGeoCache(), stubGeoProvider{}, services.GeoConfig{
		ProviderTimeout: cfg.Geo.ProviderTimeout,
		CacheTTL:        cfg.Geo.CacheTTL,
		MaxCalls:        cfg.Geo.MaxCalls,
		CallWindow:      cfg.Geo.CallWindow,
	}, clk, logger)

	riskService := services.NewLoginRiskService(locationRepo, geoService, services.RiskConfig{
		HistoryLimit:        cfg.Risk.HistoryLimit,
		ImpossibleSpeedKmh:  cfg.Risk.ImpossibleSpeedKmh,
		MinTravelDistanceKm: cfg.Risk.MinTravelDistanceKm,
		DistantThresholdKm:  cfg.Risk.DistantThresholdKm,
		NewCityMinHistory:   cfg.Risk.NewCityMinHistory,
	}, clk, logger)

	eventService := services.NewSecurityEventService(eventRepo, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)

	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.MFAEncryptionKey), "LoginShield")
	if err != nil {
		panic(fmt.Sprintf("failed to create TOTP manager: %v", err))
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	authService := services.NewAuthService(
		userRepo,
		attemptService,
		captchaService,
		riskService,
		eventService,
		notifier,
		tokenManager,
		totpManager,
		timingDelay,
		logger,
		pkglogger.NewAuditLogger(logger),
	)
	mfaService := services.NewMFAService(userRepo, totpManager, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	captchaHandler := handlers.NewCaptchaHandler(captchaService, eventService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, logger)
	securityHandler := handlers.NewSecurityHandler(riskService, eventService, attemptService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(
		router,
		authHandler,
		captchaHandler,
		mfaHandler,
		securityHandler,
		tokenManager,
		userRepo,
		rateLimitService,
		eventService,
		cfg,
	)

	return &TestServer{
		Server:       httptest.NewServer(router),
		DB:           db,
		Notices:      notices,
		Config:       cfg,
		TokenManager: tokenManager,
		notifier:     notifier,
	}
}

// Close shuts down the server and drains the notification workers.
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.notifier != nil {
		ts.notifier.Stop()
	}
}

// Request makes a JSON request against the test server. The clientIP
// entry in headers, when present under X-Forwarded-For, controls the
// IP the engine sees.
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated request with a bearer token.
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// AccessTokenFor mints a valid access token for the given user.
func (ts *TestServer) AccessTokenFor(user *models.User) (string, error) {
	return ts.TokenManager.GenerateAccessToken(user.ID, user.Email)
}

// ParseJSONResponse decodes the response body into target and closes it.
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// AuthTokens is the token pair returned by login, register, and refresh.
type AuthTokens struct {
	AccessToken  string
	RefreshToken string
}

// ExtractTokensFromResponse pulls the token pair out of an auth response.
func ExtractTokensFromResponse(resp *http.Response) (AuthTokens, error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return AuthTokens{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var tokens AuthTokens
	if access, ok := authResp["access_token"].(string); ok {
		tokens.AccessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		tokens.RefreshToken = refresh
	}
	return tokens, nil
}

// GetErrorMessage extracts the message field from an error response.
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
