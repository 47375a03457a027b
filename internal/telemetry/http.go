package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultConnectTimeout = 3 * time.Second
	defaultFetchTimeout   = 5 * time.Second

	// maxPayloadBytes caps how much of a device response is read. Location
	// payloads are a few hundred bytes; anything larger is garbage.
	maxPayloadBytes = 1 << 20
)

// HTTPSource fetches samples from the device's location endpoint,
// GET http://<address>:<port>/location.
type HTTPSource struct {
	client *http.Client
	port   int
}

// NewHTTPSource creates a telemetry source with the given device port
// (default: 8080). The connect timeout keeps a dead device from holding a
// dial open; the overall client timeout bounds the full request so one slow
// device cannot stall a fleet-wide pass.
func NewHTTPSource(port int) *HTTPSource {
	if port == 0 {
		port = 8080
	}
	return &HTTPSource{
		client: &http.Client{
			Timeout: defaultFetchTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
			},
		},
		port: port,
	}
}

// Fetch queries one device and returns its current GeoSample.
// Failures classify as ErrUnreachable, ErrMalformed or ErrInvalid.
func (s *HTTPSource) Fetch(ctx context.Context, address string) (GeoSample, error) {
	url := fmt.Sprintf("http://%s/location", net.JoinHostPort(address, fmt.Sprintf("%d", s.port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return GeoSample{}, fmt.Errorf("build request for %s: %w", address, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return GeoSample{}, err
		}
		return GeoSample{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return GeoSample{}, fmt.Errorf("%w: device returned status %d", ErrMalformed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return GeoSample{}, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	return ParseSample(body, time.Now())
}
