package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/evanmoreau/loginshield/internal/auth"
	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/evanmoreau/loginshield/internal/handlers"
	"github.com/evanmoreau/loginshield/internal/middleware"
	"github.com/evanmoreau/loginshield/internal/repositories"
	"github.com/evanmoreau/loginshield/internal/services"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// Requests per minute allowed through the coarse outer IP limiter. The
// engine's per-endpoint windows enforce the real budget; this layer
// only shields against raw bursts.
const outerRequestsPerMinute = 300

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	captchaHandler *handlers.CaptchaHandler,
	mfaHandler *handlers.MFAHandler,
	securityHandler *handlers.SecurityHandler,
	tokenManager *auth.TokenManager,
	userRepo *repositories.UserRepository,
	rateLimits *services.RateLimitService,
	events *services.SecurityEventService,
	cfg *config.Config,
) {
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	engineLimit := middleware.EngineRateLimit(rateLimits, events, ipConfig, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.IPBlockTTL)
	outerLimit := middleware.RateLimitByIP(outerRequestsPerMinute)

	// Public auth routes - both limiter layers, no authentication
	router.Group(func(r chi.Router) {
		r.Use(outerLimit)
		r.Use(engineLimit)

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/captcha", captchaHandler.Generate)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Post("/auth/mfa/setup", mfaHandler.Setup)
		r.Post("/auth/mfa/activate", mfaHandler.Activate)
		r.Post("/auth/mfa/disable", mfaHandler.Disable)
		r.Get("/security/logins", securityHandler.MyLogins)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(userRepo, "admin"))
			r.Get("/security/unusual-logins", securityHandler.UnusualLogins)
			r.Get("/security/events", securityHandler.Events)
			r.Get("/security/lockouts", securityHandler.LockoutStatus)
		})
	})
}
