package reconcile

import (
	"math"

	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

// DefaultEpsilon is the minimum per-axis coordinate delta that counts as
// movement: 0.0001 degrees, roughly 11 meters at the equator.
const DefaultEpsilon = 0.0001

// Changed reports whether cur differs enough from prev to warrant a
// registry write. Latitude and longitude are compared independently; a
// delta strictly greater than epsilon on either axis triggers, a delta of
// exactly epsilon does not. A nil prev always triggers.
//
// Degrees are compared directly without geodesic correction: the physical
// distance a longitude degree spans shrinks toward the poles, but for a
// room-scale phone fleet the simple comparison is deliberate. Altitude is
// carried through to the record but never participates in the decision.
func Changed(prev *telemetry.GeoSample, cur telemetry.GeoSample, epsilon float64) bool {
	if prev == nil {
		return true
	}
	return math.Abs(cur.Latitude-prev.Latitude) > epsilon ||
		math.Abs(cur.Longitude-prev.Longitude) > epsilon
}
