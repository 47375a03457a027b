// Package telemetry fetches geolocation samples from fleet devices.
//
// A device exposes its current position either over HTTP (the Termux
// location API wrapped in a small web server) or over SSH (running
// termux-location directly). Both transports yield the same JSON payload,
// which is decoded strictly: anything that does not parse into numeric
// coordinates is rejected rather than partially recovered.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Classified fetch failures. Callers decide per class whether to skip the
// device for the pass or surface the error.
var (
	// ErrUnreachable covers connection and timeout failures.
	ErrUnreachable = errors.New("device unreachable")

	// ErrMalformed covers payloads that cannot be parsed at all,
	// including non-200 responses from the device endpoint.
	ErrMalformed = errors.New("malformed telemetry payload")

	// ErrInvalid covers parseable payloads whose coordinates are
	// non-numeric, missing, or out of range.
	ErrInvalid = errors.New("invalid coordinates")
)

// GeoSample is a single position observation from one device.
// Immutable once constructed.
type GeoSample struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	City       string
	ObservedAt time.Time
}

// payload is the wire shape both transports produce. Latitude and longitude
// are required; altitude and city are optional. Pointer fields distinguish
// "absent" from zero.
type payload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	City      string   `json:"city"`
}

// ParseSample decodes a raw telemetry payload into a GeoSample.
//
// JSON syntax errors classify as ErrMalformed. Type mismatches (e.g. a
// latitude sent as a string), missing coordinates, and out-of-range values
// classify as ErrInvalid. A missing altitude defaults to 0.
func ParseSample(data []byte, observedAt time.Time) (GeoSample, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return GeoSample{}, fmt.Errorf("%w: field %q is not numeric", ErrInvalid, typeErr.Field)
		}
		return GeoSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.Latitude == nil || p.Longitude == nil {
		return GeoSample{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalid)
	}
	if *p.Latitude < -90 || *p.Latitude > 90 {
		return GeoSample{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalid, *p.Latitude)
	}
	if *p.Longitude < -180 || *p.Longitude > 180 {
		return GeoSample{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalid, *p.Longitude)
	}

	sample := GeoSample{
		Latitude:   *p.Latitude,
		Longitude:  *p.Longitude,
		City:       p.City,
		ObservedAt: observedAt,
	}
	if p.Altitude != nil {
		sample.Altitude = *p.Altitude
	}

	return sample, nil
}
