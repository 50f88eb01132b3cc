package models

import (
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // "user", "admin"
	Status       string // "active", "suspended", "disabled"
	MFAEnabled   bool
	MFASecret    string // AES-GCM encrypted TOTP secret, empty until MFA is activated
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
