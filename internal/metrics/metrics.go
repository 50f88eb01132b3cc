// Package metrics exposes Prometheus counters for the abuse-prevention
// engine so swallowed side-effect failures stay visible.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Abuse prevention metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and status class",
		},
		[]string{"method", "status"}, // status: 2xx, 3xx, 4xx, 5xx
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the sliding-window rate limiter",
		},
	)

	IPBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "ip_blocks_total",
			Help:      "Total number of IPs placed on the temporary blocklist",
		},
	)

	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "account_lockouts_total",
			Help:      "Total number of account lockouts triggered by repeated login failures",
		},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts",
		},
		[]string{"outcome"}, // success, failure, locked, captcha_required, mfa_required
	)

	CaptchaIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "captcha_issued_total",
			Help:      "Total number of captcha challenges issued",
		},
	)

	CaptchaVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "captcha_verifications_total",
			Help:      "Total number of captcha verification attempts",
		},
		[]string{"outcome"}, // verified, wrong_answer, expired, mismatch, malformed
	)

	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "geo_lookups_total",
			Help:      "Total number of geolocation resolutions by source",
		},
		[]string{"source"}, // private, cache, provider, failure
	)

	UnusualLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "unusual_logins_total",
			Help:      "Total number of logins flagged unusual by risk level",
		},
		[]string{"risk_level"},
	)

	HistoryWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "history_write_failures_total",
			Help:      "Total number of login location history writes that failed and were swallowed",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "notifications_total",
			Help:      "Total number of notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: sent, failed
	)

	NotificationsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loginshield",
			Name:      "notifications_dropped_total",
			Help:      "Total number of notifications dropped because the dispatch queue was full",
		},
	)
)

// Handler serves the Prometheus scrape endpoint. Register it on
// "/metrics".
func Handler() http.Handler {
	return promhttp.Handler()
}
