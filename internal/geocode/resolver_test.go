package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

var berlin = telemetry.GeoSample{Latitude: 52.52, Longitude: 13.405}

func geocodeServer(t *testing.T, calls *atomic.Int32, location string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/reverse-geocode", r.URL.Path)
		assert.Equal(t, "52.520000", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.405000", r.URL.Query().Get("lon"))
		assert.NotEmpty(t, r.URL.Query().Get("method"))
		_, _ = w.Write([]byte(`{"location": "` + location + `"}`))
	}))
}

func TestResolve(t *testing.T) {
	var calls atomic.Int32
	ts := geocodeServer(t, &calls, "Berlin, DE")
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	place, resolvedAt := r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, "Berlin, DE", place)
	assert.False(t, resolvedAt.IsZero())
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	ts := geocodeServer(t, &calls, "Berlin, DE")
	defer ts.Close()

	now := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	r := NewResolver(ts.URL, logr.Discard(), withNow(func() time.Time { return now }))

	r.Resolve(context.Background(), "phone-a", berlin)

	// Second call inside the TTL, even with moved coordinates, hits the cache.
	moved := telemetry.GeoSample{Latitude: 52.53, Longitude: 13.41}
	resolvedAt := now
	now = now.Add(23 * time.Hour)
	place, at := r.Resolve(context.Background(), "phone-a", moved)
	assert.Equal(t, "Berlin, DE", place)
	assert.Equal(t, resolvedAt, at, "cache hit keeps the original resolution time")
	assert.Equal(t, int32(1), calls.Load())

	// Third call after expiry re-resolves.
	now = now.Add(2 * time.Hour)
	r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_CacheIsPerDevice(t *testing.T) {
	var calls atomic.Int32
	ts := geocodeServer(t, &calls, "Berlin, DE")
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	r.Resolve(context.Background(), "phone-a", berlin)
	r.Resolve(context.Background(), "phone-b", berlin)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_FailureReturnsSentinelAndIsCached(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "geocoder down", http.StatusBadGateway)
	}))
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	place, _ := r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, PlaceUnknown, place)

	// The failure itself is cached: no second external call within the TTL.
	place, _ = r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, PlaceUnknown, place)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_MissingLocationFieldIsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	place, _ := r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, PlaceUnknown, place)
}

func TestPrime(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("primed entry must prevent the external call")
	}))
	defer ts.Close()

	now := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	r := NewResolver(ts.URL, logr.Discard(), withNow(func() time.Time { return now }))

	r.Prime("phone-a", "Berlin_DE", now.Add(-time.Hour))
	place, at := r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, "Berlin_DE", place)
	assert.Equal(t, now.Add(-time.Hour), at)
}

func TestPrime_DoesNotOverrideFreshEntry(t *testing.T) {
	var calls atomic.Int32
	ts := geocodeServer(t, &calls, "Berlin, DE")
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	place, _ := r.Resolve(context.Background(), "phone-a", berlin)
	require.Equal(t, "Berlin, DE", place)

	r.Prime("phone-a", "Stale_Name", time.Now())
	place, _ = r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, "Berlin, DE", place)
}

func TestPrime_IgnoresEmptySeed(t *testing.T) {
	var calls atomic.Int32
	ts := geocodeServer(t, &calls, "Berlin, DE")
	defer ts.Close()

	r := NewResolver(ts.URL, logr.Discard())
	r.Prime("phone-a", "", time.Now())
	r.Prime("phone-b", "Berlin", time.Time{})

	r.Resolve(context.Background(), "phone-a", berlin)
	assert.Equal(t, int32(1), calls.Load())
}
