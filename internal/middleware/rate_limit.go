package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/evanmoreau/loginshield/internal/models"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
)

// RateLimiter is the engine surface the middleware consults on every
// request: a temporary IP blocklist plus per-identifier sliding windows.
type RateLimiter interface {
	IsRateLimited(ctx context.Context, identifier string, maxRequests int, window time.Duration) (bool, error)
	BlockRemaining(ctx context.Context, ip string) (time.Duration, error)
	BlockIP(ctx context.Context, ip string, duration time.Duration) error
}

// Strike budget for clients that keep sending requests after being
// limited. Strikes accumulate in their own sliding window through the
// same store; exhausting it escalates to an IP block.
const (
	strikeLimit  = 10
	strikeWindow = 5 * time.Minute
)

// EventRecorder records security events for blocked or limited requests
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType string, email, ipAddress, userAgent *string, severity models.RiskLevel, details models.EventDetails) error
}

// EngineRateLimit enforces the engine's IP blocklist and per-endpoint
// sliding window. Blocked IPs get 403 with Retry-After set to the block
// remainder; limited clients get 429 with Retry-After set to the full
// window. Window keys are ip:path so each endpoint has its own budget.
// Clients that burn through the strike budget while limited get their
// IP blocked for blockTTL.
func EngineRateLimit(limiter RateLimiter, events EventRecorder, ipConfig *pkghttp.IPConfig, maxRequests int, window, blockTTL time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			remaining, err := limiter.BlockRemaining(r.Context(), ip)
			// Broken store fails open so an outage cannot lock everyone out
			if err == nil && remaining > 0 {
				recordLimitEvent(r, events, models.SecurityEventIPBlocked, ip, models.RiskLevelHigh, models.EventDetails{
					"endpoint":            r.URL.Path,
					"retry_after_seconds": int(remaining.Seconds()),
				})
				w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())))
				pkghttp.WriteForbidden(w, "Access temporarily blocked")
				return
			}

			identifier := ip + ":" + r.URL.Path
			limited, err := limiter.IsRateLimited(r.Context(), identifier, maxRequests, window)
			if err == nil && limited {
				recordLimitEvent(r, events, models.SecurityEventRateLimited, ip, models.RiskLevelMedium, models.EventDetails{
					"endpoint":     r.URL.Path,
					"max_requests": maxRequests,
				})

				struck, strikeErr := limiter.IsRateLimited(r.Context(), "strikes:"+ip, strikeLimit, strikeWindow)
				if strikeErr == nil && struck {
					if blockErr := limiter.BlockIP(r.Context(), ip, blockTTL); blockErr == nil {
						recordLimitEvent(r, events, models.SecurityEventIPBlocked, ip, models.RiskLevelHigh, models.EventDetails{
							"endpoint": r.URL.Path,
							"reason":   "rate_limit_strikes",
						})
					}
				}

				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				pkghttp.WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func recordLimitEvent(r *http.Request, events EventRecorder, eventType, ip string, severity models.RiskLevel, details models.EventDetails) {
	if events == nil {
		return
	}

	userAgent := r.UserAgent()
	var uaPtr *string
	if userAgent != "" {
		uaPtr = &userAgent
	}
	_ = events.RecordEvent(r.Context(), eventType, nil, &ip, uaPtr, severity, details)
}

// RateLimitByIP is a coarse per-peer limiter applied in front of the
// engine's per-endpoint windows. It keys on the socket address, never
// on forwarding headers, so direct clients cannot rotate identities by
// spoofing X-Forwarded-For. Behind a proxy this bounds throughput per
// proxy; the engine windows keyed on the extracted client IP remain
// the authoritative per-client limits.
func RateLimitByIP(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.")
		}),
	)
}
