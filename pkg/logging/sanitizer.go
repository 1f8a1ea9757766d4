package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match JWT tokens (three base64 segments separated by dots)
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match AWS signature query parameters inside free text
	amzParamPattern = regexp.MustCompile(`(?i)(X-Amz-(?:Signature|Credential|Security-Token))=[^&\s"]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// sensitiveQueryParams are redacted from logged URLs. Signed upload URLs
// carry their credentials in the query string.
var sensitiveQueryParams = []string{
	"x-amz-signature",
	"x-amz-credential",
	"x-amz-security-token",
	"token",
	"access_token",
}

// SanitizeConnectionString removes sensitive data from connection strings
// Use this before logging any connection string
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	// Replace password values
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)

	// Replace user:pass@host format
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data
// Use this before logging errors from the database, S3 or SQS
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Remove potential passwords
	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)

	// Remove JWT tokens
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)

	// Remove signed URL credentials
	sanitized = amzParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	// Remove connection string details
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeURL redacts credentials from a URL's query string and user info.
// Unparseable input is redacted entirely.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return RedactedText
	}
	if u.User != nil {
		u.User = url.User(RedactedText)
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			for _, sensitive := range sensitiveQueryParams {
				if strings.EqualFold(key, sensitive) {
					q.Set(key, RedactedText)
				}
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
