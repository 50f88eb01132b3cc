package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/evanmoreau/loginshield/internal/metrics"
	pkghttp "github.com/evanmoreau/loginshield/pkg/http"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// Probe endpoints stay out of the request log.
var unloggedPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// SecureLogger returns a middleware for logging HTTP requests with sensitive
// data redaction. The client_ip attribute is the trusted-proxy-aware address
// the engine keys its windows on; remote_addr is the raw socket peer. Server
// errors log at Error, client errors at Warn.
func SecureLogger(logger *slog.Logger, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := unloggedPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Wrap response writer to capture status and size
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			status := wrapped.Status()
			if status == 0 {
				// Handler completed without an explicit write.
				status = http.StatusOK
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, statusClass(status)).Inc()

			// Sanitize query string if it contains sensitive parameters
			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path = path + "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path = r.URL.Path + "?" + r.URL.RawQuery
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", duration.String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("client_ip", pkghttp.ExtractClientIP(r, ipConfig)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
