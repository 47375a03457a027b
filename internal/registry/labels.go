package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Label keys for per-device location metadata. All location state for a
// device lives under the phone.location/ prefix on its node object and is
// always written as a complete set so readers never observe a torn record.
const (
	labelPrefix = "phone.location/"

	KeyLatitude  = labelPrefix + "latitude"
	KeyLongitude = labelPrefix + "longitude"
	KeyAltitude  = labelPrefix + "altitude"
	KeyCity      = labelPrefix + "city"
	KeyUpdated   = labelPrefix + "updated"
	KeyStatus    = labelPrefix + "status"
	KeyGeocoded  = labelPrefix + "geocoded"
)

// StatusActive is the KeyStatus value written on every successful
// reconciliation. The reconciler never marks a device inactive: a failing
// device keeps its last record untouched.
const StatusActive = "active"

// DefaultSelector matches the phone nodes this controller reconciles.
const DefaultSelector = "device-type=phone"

// maxLabelValueLen is the Kubernetes limit on label values.
const maxLabelValueLen = 63

// valueSeparators are the non-alphanumeric runes a label value may contain,
// though not at its edges.
const valueSeparators = "-_."

// SanitizeValue maps an arbitrary string (typically a geocoded place name)
// to a legal Kubernetes label value: every rune outside [A-Za-z0-9-_.]
// becomes '_', leading and trailing separators are stripped, and the result
// is capped at 63 characters. The mapping is deterministic and idempotent;
// distinct inputs may collide, which is acceptable for display values.
func SanitizeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), valueSeparators)
	if len(out) > maxLabelValueLen {
		out = strings.TrimRight(out[:maxLabelValueLen], valueSeparators)
	}
	return out
}

// formatCoordinate renders a coordinate as a label-legal value. Label values
// must begin with an alphanumeric, so a leading minus sign is encoded as the
// prefix 'n' ("n13.400000" for -13.4). The encoding is reversible: change
// detection compares fresh samples against the decoded stored record, so a
// lossy format would break idempotence for negative coordinates.
func formatCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if strings.HasPrefix(s, "-") {
		return "n" + s[1:]
	}
	return s
}

// parseCoordinate reverses formatCoordinate.
func parseCoordinate(s string) (float64, error) {
	negative := strings.HasPrefix(s, "n")
	if negative {
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// formatTimestamp renders a timestamp as unix seconds. RFC 3339 contains
// colons, which the label value grammar rejects.
func formatTimestamp(t int64) string {
	return strconv.FormatInt(t, 10)
}

func parseTimestamp(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
