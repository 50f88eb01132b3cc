package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the security event log
const (
	SecurityEventLoginSuccess   = "login_success"
	SecurityEventLoginFailure   = "login_failure"
	SecurityEventAccountLockout = "account_lockout"
	SecurityEventIPBlocked      = "ip_blocked"
	SecurityEventRateLimited    = "rate_limited"
	SecurityEventCaptchaIssued  = "captcha_issued"
	SecurityEventCaptchaFailed  = "captcha_failed"
	SecurityEventCaptchaPassed  = "captcha_passed"
	SecurityEventUnusualLogin   = "unusual_login"
	SecurityEventMFAChallenge   = "mfa_challenge"
	SecurityEventRegister       = "register"
)

type SecurityEvent struct {
	ID        uuid.UUID    `db:"id"`
	EventType string       `db:"event_type"`
	Email     *string      `db:"email"`
	IPAddress *string      `db:"ip_address"`
	UserAgent *string      `db:"user_agent"`
	Severity  RiskLevel    `db:"severity"`
	Details   EventDetails `db:"details"`
	CreatedAt time.Time    `db:"created_at"`
}

// EventDetails holds additional context for security events
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (ed *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*ed = make(EventDetails)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*ed = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (ed EventDetails) Value() (driver.Value, error) {
	if ed == nil {
		return nil, nil
	}
	return json.Marshal(ed)
}

// MarshalJSON implements json.Marshaler
func (ed EventDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(ed))
}

// UnmarshalJSON implements json.Unmarshaler
func (ed *EventDetails) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*ed = EventDetails(m)
	return nil
}
