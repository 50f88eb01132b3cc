package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and account state errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrMFARequired        = errors.New("mfa verification required")
	ErrMFACodeInvalid     = errors.New("invalid mfa code")
	ErrMFANotConfigured   = errors.New("mfa is not configured")

	// Abuse prevention errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrIPBlocked         = errors.New("ip address is blocked")
	ErrCaptchaRequired   = errors.New("captcha verification required")
	ErrCaptchaInvalid    = errors.New("captcha answer is incorrect")
	ErrCaptchaExpired    = errors.New("captcha challenge expired or unknown")

	// Geolocation errors
	ErrGeoLookupFailed = errors.New("geolocation lookup failed")
)

// AccountLockedError carries the lockout countdown so callers can
// surface a machine-readable retry delay. errors.Is matches it against
// ErrAccountLocked.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
