package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Key fragments that mark an attribute as secret. Matching is on the
// lower-cased key, so "jwtSecret" and "keystore_pass" are both caught.
var sensitiveFragments = []string{
	"secret",
	"pass",
	"authorization",
	"bearer",
	"private",
	"signature",
}

// keyword=value credentials inside libpq style DSNs.
var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// MaskDSN strips the password from a database DSN and keeps the driver,
// host and database visible. URL and keyword forms are both handled; a
// sqlite path has no credentials and passes through.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return dsn
	}
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return RedactedValue
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), RedactedValue)
			}
		}
		q := u.Query()
		if q.Has("password") {
			q.Set("password", RedactedValue)
			u.RawQuery = q.Encode()
		}
		// UserPassword escapes the brackets; undo that for readability.
		out := u.String()
		return strings.ReplaceAll(out, url.QueryEscape(RedactedValue), RedactedValue)
	}
	return dsnPassword.ReplaceAllString(trimmed, "${1}"+RedactedValue)
}

// MaskField builds a string attribute with secrets removed. DSN keys keep
// their non-secret parts.
func MaskField(key, value string) slog.Attr {
	switch {
	case strings.TrimSpace(value) == "":
		return slog.String(key, value)
	case strings.EqualFold(strings.TrimSpace(key), "dsn"):
		return slog.String(key, MaskDSN(value))
	case IsSensitive(key):
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, value)
}

// redactAttr is installed as part of the handler's ReplaceAttr so a secret
// passed as a plain attribute never reaches the sink.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		if IsSensitive(attr.Key) && attr.Value.Kind() != slog.KindGroup {
			return slog.String(attr.Key, RedactedValue)
		}
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
