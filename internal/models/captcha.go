package models

import "time"

// Captcha operation kinds
const (
	CaptchaOpAddition       = "addition"
	CaptchaOpSubtraction    = "subtraction"
	CaptchaOpMultiplication = "multiplication"
)

// CaptchaChallenge is the client-facing math challenge. The expected
// answer never leaves the server.
type CaptchaChallenge struct {
	Token     string    `json:"captcha_token"`
	Question  string    `json:"question"`
	Type      string    `json:"type"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}
