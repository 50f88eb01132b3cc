package integration

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultTestPassword satisfies every password policy rule.
const DefaultTestPassword = "TestPassword123!"

// TestUser returns registration input with a unique email per call.
func TestUser(suffix string) map[string]string {
	return map[string]string{
		"email":    fmt.Sprintf("user-%s-%d@example.com", suffix, time.Now().UnixNano()),
		"password": DefaultTestPassword,
		"name":     "Integration Test User",
	}
}

// SolveCaptchaQuestion computes the answer to an arithmetic challenge
// of the form "What is A <op> B?".
func SolveCaptchaQuestion(question string) (string, error) {
	var a, b int
	var op string
	if _, err := fmt.Sscanf(question, "What is %d %s %d?", &a, &op, &b); err != nil {
		return "", fmt.Errorf("unrecognized captcha question %q: %w", question, err)
	}

	switch op {
	case "+":
		return strconv.Itoa(a + b), nil
	case "-":
		return strconv.Itoa(a - b), nil
	case "x":
		return strconv.Itoa(a * b), nil
	default:
		return "", fmt.Errorf("unrecognized captcha operation %q", op)
	}
}
