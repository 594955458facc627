package log

import (
	"strings"
)

// SanitizeField checks if the key contains sensitive keywords and sanitizes the value
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	// Convert key to lowercase for case-insensitive matching
	lowerKey := strings.ToLower(key)

	// Connection strings embed credentials; mask the password part only
	if lowerKey == "dsn" || lowerKey == "source" || strings.Contains(lowerKey, "database_url") {
		return sanitizeDSN(value)
	}

	// Check if key contains sensitive keywords
	sensitiveKeywords := []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token", "access_token", "admin_token",
		"secret", "auth", "authorization",
		"credential", "private_key", "privatekey",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken masks token/password values showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		// For short strings, mask everything except first and last char
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	// For longer strings, show first 4 and last 4
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeDSN masks the password inside a MySQL-style DSN.
// Example: user:secret@tcp(localhost:3306)/db -> user:***@tcp(localhost:3306)/db
func sanitizeDSN(value string) string {
	atIdx := strings.Index(value, "@")
	if atIdx < 0 {
		return value
	}

	credentials := value[:atIdx]
	colonIdx := strings.Index(credentials, ":")
	if colonIdx < 0 {
		// No password part present
		return value
	}

	return credentials[:colonIdx] + ":***" + value[atIdx:]
}
