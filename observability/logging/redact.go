package logging

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// RedactedValue replaces secret values in log lines.
const RedactedValue = "[REDACTED]"

// secretMarkers are matched against normalised attribute keys.
var secretMarkers = []string{"secret", "token", "passphrase", "password", "privatekey", "authorization"}

func normaliseKey(key string) string {
	return strings.NewReplacer("_", "", "-", "", ".", "").Replace(strings.ToLower(strings.TrimSpace(key)))
}

// IsSecretKey reports whether values logged under key are always redacted.
func IsSecretKey(key string) bool {
	normalised := normaliseKey(key)
	for _, marker := range secretMarkers {
		if strings.Contains(normalised, marker) {
			return true
		}
	}
	return false
}

// MaskField prepares value for logging under key. Secrets become
// RedactedValue and file paths (keys ending in "path" or "file") keep only
// their base name. Anything else, and empty values, pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if IsSecretKey(key) {
		return slog.String(key, RedactedValue)
	}
	normalised := normaliseKey(key)
	if strings.HasSuffix(normalised, "path") || strings.HasSuffix(normalised, "file") {
		return slog.String(key, filepath.Base(value))
	}
	return slog.String(key, value)
}

// redactAttr masks string attributes logged under a secret key without going
// through MaskField.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && attr.Value.String() != "" && IsSecretKey(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
