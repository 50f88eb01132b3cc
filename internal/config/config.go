package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Captcha   CaptchaConfig
	Geo       GeoConfig
	Risk      RiskConfig
	Notify    NotifyConfig
	Sweep     SweepConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret            string
	AccessTokenExpiry    time.Duration
	RefreshTokenExpiry   time.Duration
	MFAEncryptionKey     string
	TimingBaseDelayMs    int
	TimingRandomDelayMs  int
	TimingDelayOnSuccess bool
}

// RateLimitConfig tunes the per-identifier sliding window limiter used
// at the HTTP edge.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	IPBlockTTL  time.Duration
}

// LockoutConfig tunes the failed-login tracker.
type LockoutConfig struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// CaptchaConfig tunes the math challenge gate.
type CaptchaConfig struct {
	FailureThreshold int
	TTL              time.Duration
}

// GeoConfig tunes the IP geolocation client and its cache.
type GeoConfig struct {
	ProviderBaseURL string
	ProviderTimeout time.Duration
	CacheTTL        time.Duration
	MaxCalls        int
	CallWindow      time.Duration
}

// RiskConfig tunes the unusual login detector thresholds.
type RiskConfig struct {
	HistoryLimit        int
	ImpossibleSpeedKmh  float64
	MinTravelDistanceKm float64
	DistantThresholdKm  float64
	NewCityMinHistory   int
}

// NotifyConfig tunes the alert dispatcher and its delivery channels.
type NotifyConfig struct {
	QueueSize        int
	Workers          int
	RetryBackoff     time.Duration
	EmailFrom        string
	SecurityTeamAddr string
	AWSRegion        string
	WhatsAppEndpoint string
	WhatsAppToken    string
	WhatsAppTo       string
}

// SweepConfig tunes the background sweeper and database retention.
type SweepConfig struct {
	Interval       time.Duration
	EventRetention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loginshield"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseCommaList(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			MFAEncryptionKey:     getEnv("MFA_ENCRYPTION_KEY", ""),
			TimingBaseDelayMs:    getEnvAsInt("TIMING_BASE_DELAY_MS", 100),
			TimingRandomDelayMs:  getEnvAsInt("TIMING_RANDOM_DELAY_MS", 50),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			IPBlockTTL:  getEnvAsDuration("RATE_LIMIT_IP_BLOCK_TTL", 1*time.Hour),
		},
		Lockout: LockoutConfig{
			MaxAttempts:     getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Window:          getEnvAsDuration("LOCKOUT_WINDOW", 5*time.Minute),
			LockoutDuration: getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		Captcha: CaptchaConfig{
			FailureThreshold: getEnvAsInt("CAPTCHA_FAILURE_THRESHOLD", 3),
			TTL:              getEnvAsDuration("CAPTCHA_TTL", 5*time.Minute),
		},
		Geo: GeoConfig{
			ProviderBaseURL: getEnv("GEO_PROVIDER_BASE_URL", "http://ip-api.com/json"),
			ProviderTimeout: getEnvAsDuration("GEO_PROVIDER_TIMEOUT", 10*time.Second),
			CacheTTL:        getEnvAsDuration("GEO_CACHE_TTL", 24*time.Hour),
			MaxCalls:        getEnvAsInt("GEO_MAX_CALLS", 40),
			CallWindow:      getEnvAsDuration("GEO_CALL_WINDOW", 60*time.Second),
		},
		Risk: RiskConfig{
			HistoryLimit:        getEnvAsInt("RISK_HISTORY_LIMIT", 50),
			ImpossibleSpeedKmh:  getEnvAsFloat("RISK_IMPOSSIBLE_SPEED_KMH", 800),
			MinTravelDistanceKm: getEnvAsFloat("RISK_MIN_TRAVEL_DISTANCE_KM", 100),
			DistantThresholdKm:  getEnvAsFloat("RISK_DISTANT_THRESHOLD_KM", 500),
			NewCityMinHistory:   getEnvAsInt("RISK_NEW_CITY_MIN_HISTORY", 3),
		},
		Notify: NotifyConfig{
			QueueSize:        getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			Workers:          getEnvAsInt("NOTIFY_WORKERS", 2),
			RetryBackoff:     getEnvAsDuration("NOTIFY_RETRY_BACKOFF", 2*time.Second),
			EmailFrom:        getEnv("NOTIFY_EMAIL_FROM", "security@loginshield.dev"),
			SecurityTeamAddr: getEnv("NOTIFY_SECURITY_TEAM_ADDR", ""),
			AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
			WhatsAppEndpoint: getEnv("NOTIFY_WHATSAPP_ENDPOINT", ""),
			WhatsAppToken:    getEnv("NOTIFY_WHATSAPP_TOKEN", ""),
			WhatsAppTo:       getEnv("NOTIFY_WHATSAPP_TO", ""),
		},
		Sweep: SweepConfig{
			Interval:       getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
			EventRetention: getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Lockout.MaxAttempts < 1 {
		return nil, fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.Geo.MaxCalls < 1 {
		return nil, fmt.Errorf("GEO_MAX_CALLS must be at least 1")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func parseCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
