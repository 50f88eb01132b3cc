package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/background"
	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/evanmoreau/loginshield/internal/database"
	"github.com/evanmoreau/loginshield/internal/handlers"
	"github.com/evanmoreau/loginshield/internal/metrics"
	middlewareCustom "github.com/evanmoreau/loginshield/internal/middleware"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/evanmoreau/loginshield/internal/repositories"
	"github.com/evanmoreau/loginshield/internal/routes"
	"github.com/evanmoreau/loginshield/internal/services"
	pkgauth "github.com/evanmoreau/loginshield/pkg/auth"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	locationRepo := repositories.NewLoginLocationRepository(db)

	clk := clock.Real{}

	// Notification dispatcher with whichever channels are configured
	var senders []services.NoticeSender
	if cfg.Notify.AWSRegion != "" && cfg.Notify.EmailFrom != "" {
		emailSender, err := services.NewAWSSESEmailService(cfg.Notify.AWSRegion, cfg.Notify.EmailFrom, logger)
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		senders = append(senders, emailSender)
	}
	if cfg.Notify.WhatsAppEndpoint != "" {
		senders = append(senders, services.NewWhatsAppService(cfg.Notify.WhatsAppEndpoint, cfg.Notify.WhatsAppToken, cfg.Notify.WhatsAppTo, logger))
	}

	notifier := services.NewNotificationService(senders, userRepo, services.NotificationConfig{
		QueueSize:        cfg.Notify.QueueSize,
		Workers:          cfg.Notify.Workers,
		RetryBackoff:     cfg.Notify.RetryBackoff,
		SecurityTeamAddr: cfg.Notify.SecurityTeamAddr,
	}, logger)
	notifier.Start()

	// Engine services
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

	geoService := services.NewGeoLocationService(
		services.NewMemoryGeoCache(),
		services.NewIPAPIClient(cfg.Geo.ProviderBaseURL),
		services.GeoConfig{
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

	// Token and MFA managers
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.MFAEncryptionKey), "LoginShield")
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs:  cfg.Auth.TimingRandomDelayMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

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

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	captchaHandler := handlers.NewCaptchaHandler(captchaService, eventService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, logger)
	securityHandler := handlers.NewSecurityHandler(riskService, eventService, attemptService)

	// Background sweeper for expired engine state and old events
	sweeper := background.NewSweeper(
		rateLimitService,
		attemptService,
		captchaService,
		geoService,
		eventRepo,
		clk,
		&cfg.Sweep,
		cfg.RateLimit.Window,
		logger,
	)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	// chi's RealIP middleware is deliberately absent: it rewrites
	// RemoteAddr from forwarding headers without checking the peer,
	// which would let direct clients pick the IP the engine sees.
	// ExtractClientIP honors those headers only behind TrustedProxies.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
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

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		stat := db.Stats()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"up","pool_total":%d,"pool_idle":%d}`,
			stat.TotalConns(), stat.IdleConns())
	})

	// Prometheus metrics
	router.Get("/metrics", metrics.Handler().ServeHTTP)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Drain queued security notices before exiting
	notifier.Stop()

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         "admin",
		Status:       "active",
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
