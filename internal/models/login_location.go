package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// LoginLocationEvent is one geo-resolved login in an account's history,
// including the alerts computed at check time. Append-only. Seq is
// assigned by the store in insertion order so "most recent" never
// depends on wall-clock ties.
type LoginLocationEvent struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Email       string    `db:"email"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
	Country     string    `db:"country"`
	CountryCode string    `db:"country_code"`
	Region      string    `db:"region"`
	City        string    `db:"city"`
	Latitude    float64   `db:"latitude"`
	Longitude   float64   `db:"longitude"`
	ISP         string    `db:"isp"`
	IsProxy     bool      `db:"is_proxy"`
	IsHosting   bool      `db:"is_hosting"`
	IsPrivate   bool      `db:"is_private"`
	Unusual     bool      `db:"unusual"`
	RiskLevel   RiskLevel `db:"risk_level"`
	Alerts      AlertList `db:"alerts"`
	Seq         int64     `db:"seq"`
	CreatedAt   time.Time `db:"created_at"`
}

// AlertList stores the alerts fired for one login event
type AlertList []RiskAlert

// Scan implements sql.Scanner for JSONB
func (al *AlertList) Scan(value interface{}) error {
	if value == nil {
		*al = AlertList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var alerts []RiskAlert
	if err := json.Unmarshal(bytes, &alerts); err != nil {
		return err
	}
	*al = AlertList(alerts)
	return nil
}

// Value implements driver.Valuer for JSONB
func (al AlertList) Value() (driver.Value, error) {
	if al == nil {
		return json.Marshal([]RiskAlert{})
	}
	return json.Marshal([]RiskAlert(al))
}
