package models

import "time"

// LockoutStatus is the failed-login tracker's view of one identifier at
// a point in time. RemainingAttempts never goes below zero.
type LockoutStatus struct {
	Identifier        string     `json:"identifier"`
	FailedCount       int        `json:"failed_count"`
	RemainingAttempts int        `json:"remaining_attempts"`
	Locked            bool       `json:"locked"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}
