package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the canonical lowercase dashed form of a 16-, 32- or 128-bit UUID.
// Short forms are expanded onto the Bluetooth SIG base UUID; a 0x prefix is ignored.
func NormalizeUUID(s string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	raw = strings.TrimPrefix(raw, "0x")
	switch len(raw) {
	case 4:
		raw = "0000" + raw + sigBaseSuffix
	case 8:
		raw = raw + sigBaseSuffix
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

// SameUUID reports whether a and b name the same UUID in any accepted notation.
func SameUUID(a, b string) bool {
	na, err := NormalizeUUID(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeUUID(b)
	if err != nil {
		return false
	}
	return na == nb
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
