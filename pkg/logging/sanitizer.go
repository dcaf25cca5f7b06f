// Package logging keeps secrets out of log output. Errors from the database
// driver, the LLM clients and the Telegram API can all embed credentials
// (DSNs, API keys, bot tokens in file URLs); sanitize before logging them.
package logging

import (
	"regexp"
)

// RedactedText replaces sensitive data in sanitized output.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx in keyword DSNs
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in URL-style connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// api_key=xxx and Authorization bearer values
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token)=[A-Za-z0-9-_]{20,}`)
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)

	// Telegram bot tokens appear in file-download URLs:
	// https://api.telegram.org/file/bot<id>:<secret>/...
	botTokenPattern = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)

	// OpenAI / Anthropic key shapes
	providerKeyPattern = regexp.MustCompile(`\b(sk|sk-ant)-[A-Za-z0-9_-]{16,}`)
)

// SanitizeConnectionString removes credentials from a DSN before logging.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns the error message with any embedded credentials
// redacted. Safe to call with any error that might wrap an upstream HTTP or
// database failure.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize redacts every known credential shape in the given text.
func Sanitize(text string) string {
	sanitized := passwordPattern.ReplaceAllString(text, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = botTokenPattern.ReplaceAllString(sanitized, "bot"+RedactedText)
	return providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
}
