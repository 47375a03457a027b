// Package geocode resolves coordinates to human-readable place names.
//
// Resolution goes through an external reverse-geocoding service and is
// cached per device with a fixed TTL. Enrichment freshness is deliberately
// decoupled from coordinate freshness: within the TTL the cached name wins
// even when the device has moved, which bounds external call volume to one
// lookup per device per TTL window.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

// PlaceUnknown is written when the enrichment service cannot produce a
// name. Failures are cached like successes so a persistent outage does not
// retry on every pass.
const PlaceUnknown = "Unknown"

// DefaultTTL is how long a resolved place name stays valid.
const DefaultTTL = 24 * time.Hour

const requestTimeout = 5 * time.Second

type cacheEntry struct {
	placeName  string
	resolvedAt time.Time
}

// Resolver maps GeoSamples to place names with a per-device TTL cache.
// Safe for concurrent use across devices.
type Resolver struct {
	baseURL string
	method  string
	ttl     time.Duration
	client  *http.Client
	log     logr.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// Option adjusts resolver behavior.
type Option func(*Resolver)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithMethod sets the backend hint passed to the enrichment service.
func WithMethod(method string) Option {
	return func(r *Resolver) { r.method = method }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// withNow injects the clock for TTL tests.
func withNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver backed by the enrichment service at baseURL.
func NewResolver(baseURL string, log logr.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		baseURL: baseURL,
		method:  "auto",
		ttl:     DefaultTTL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the place name for a device's current sample and the time
// it was resolved, consulting the cache first. The resolution time is what
// callers persist as the durable mirror of this cache. External failure
// yields PlaceUnknown, never an error: a missing place name must not block
// the registry write.
func (r *Resolver) Resolve(ctx context.Context, device string, sample telemetry.GeoSample) (string, time.Time) {
	now := r.now()

	r.mu.Lock()
	entry, ok := r.cache[device]
	r.mu.Unlock()

	if ok && now.Sub(entry.resolvedAt) < r.ttl {
		return entry.placeName, entry.resolvedAt
	}

	placeName, err := r.lookup(ctx, sample)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		r.log.V(1).Info("reverse geocoding failed, caching sentinel",
			"device", device, "error", err.Error())
		placeName = PlaceUnknown
	} else {
		requestsTotal.WithLabelValues("ok").Inc()
	}

	r.mu.Lock()
	r.cache[device] = cacheEntry{placeName: placeName, resolvedAt: now}
	r.mu.Unlock()

	return placeName, now
}

// Prime seeds the cache from a durable record so a process restart does not
// re-resolve every device inside the TTL window. Existing entries win.
func (r *Resolver) Prime(device, placeName string, resolvedAt time.Time) {
	if placeName == "" || resolvedAt.IsZero() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[device]; !ok {
		r.cache[device] = cacheEntry{placeName: placeName, resolvedAt: resolvedAt}
	}
}

type reverseGeocodeResponse struct {
	Location string `json:"location"`
}

func (r *Resolver) lookup(ctx context.Context, sample telemetry.GeoSample) (string, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(sample.Latitude, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(sample.Longitude, 'f', 6, 64))
	query.Set("method", r.method)
	uri := r.baseURL + "/api/reverse-geocode?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read reverse geocode response: %w", err)
	}

	var decoded reverseGeocodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode reverse geocode response: %w", err)
	}
	if decoded.Location == "" {
		return "", fmt.Errorf("reverse geocode response has no location")
	}

	return decoded.Location, nil
}
