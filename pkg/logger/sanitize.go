package logger

import "strings"

// SanitizedEmail masks an email address for logging. The first
// character of the local part and the domain TLD stay visible, e.g.
// "user@example.com" becomes "u***@*******.com".
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "[invalid-email]"
	}

	local := parts[0][:1]
	if len(parts[0]) > 1 {
		local += strings.Repeat("*", len(parts[0])-1)
	}

	domainParts := strings.Split(parts[1], ".")
	for i := 0; i < len(domainParts)-1; i++ {
		domainParts[i] = strings.Repeat("*", len(domainParts[i]))
	}

	return local + "@" + strings.Join(domainParts, ".")
}

// Any query string containing one of these fragments is redacted
// wholesale from request logs.
var sensitiveQueryParams = []string{
	"password",
	"token",
	"secret",
	"captcha",
	"answer",
	"totp",
	"auth",
	"email",
}

// SanitizeQueryString reports whether a raw query string carries
// sensitive parameters and must not appear in request logs.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
