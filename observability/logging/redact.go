package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential material in log output.
const RedactedValue = "[REDACTED]"

// Keys that never leave the process in clear text, whatever the call site
// passed. Matching is on the lower-cased key and on these suffixes.
var credentialSuffixes = []string{
	"secret",
	"token",
	"password",
	"authorization",
	"private_key",
	"dsn",
}

// IsCredentialKey reports whether values logged under key are masked.
func IsCredentialKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, suffix := range credentialSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// MaskField returns an attribute whose value is masked when key names a
// credential. Empty values pass through so absent secrets stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsCredentialKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// scrub masks credential attributes emitted without MaskField.
func scrub(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsCredentialKey(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
