package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"fleetadmin/src/model"
)

var (
	digitRun   = regexp.MustCompile(`\d+`)
	uuidLike   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	whitespace = regexp.MustCompile(`\s+`)
)

const fingerprintLen = 16

// Fingerprint derives the stable identity of an error: logically-identical
// errors hash to the same value even when embedded ids, counts or UUIDs
// differ, while a change of type, source or route always changes it.
func Fingerprint(errorType model.ErrorType, source model.ErrorSource, message, route string) string {
	if route == "" {
		route = "unknown"
	}

	payload := strings.Join([]string{
		string(errorType),
		string(source),
		normalizeMessage(message),
		route,
	}, "|")

	sum := sha256.Sum256([]byte(payload))

	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func normalizeMessage(message string) string {
	normalized := uuidLike.ReplaceAllString(message, "<uuid>")
	normalized = digitRun.ReplaceAllString(normalized, "<n>")
	normalized = strings.ToLower(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}
