// Package idgen generates identifiers for tenants, receipts and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TenantID returns "TEN-" followed by a ULID, so ids sort by creation time.
func TenantID() string {
	return WithPrefix("TEN-")
}

// WithPrefix returns prefix + a new ULID (e.g. "PAY-01J...", "TRIAL-01J...").
func WithPrefix(prefix string) string {
	return prefix + ulid.Make().String()
}

// RequestID returns a random UUIDv4 for request correlation.
func RequestID() string {
	return uuid.NewString()
}

// ValidRequestID reports whether s is a UUID a client may supply as its own
// request id.
func ValidRequestID(s string) bool {
	if len(s) != 36 || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
