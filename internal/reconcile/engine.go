// Package reconcile drives the fleet-wide location reconciliation.
//
// One pass lists the candidate devices from the registry and runs each
// device through fetch → detect → enrich → write. Per-device failures are
// contained at the pass boundary: one unreachable phone never aborts the
// rest of the fleet. Only a failure to list candidates is fatal, there is
// nothing to reconcile without it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/parttimenerd/local-android-ai-sub000/internal/registry"
	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

const (
	// DefaultInterval is the sleep between passes in continuous mode.
	DefaultInterval = 30 * time.Second

	// defaultDeviceTimeout caps one device's whole fetch→write chain.
	defaultDeviceTimeout = 15 * time.Second
)

// Registry is the subset of the node registry the engine needs.
type Registry interface {
	ListCandidates(ctx context.Context, selector string) ([]registry.DeviceIdentity, error)
	GetRecord(ctx context.Context, name string) (*registry.LocationRecord, error)
	WriteRecord(ctx context.Context, name string, record registry.LocationRecord) error
}

// TelemetrySource fetches a position sample from one device address.
type TelemetrySource interface {
	Fetch(ctx context.Context, address string) (telemetry.GeoSample, error)
}

// PlaceResolver enriches a sample with a display place name.
type PlaceResolver interface {
	Resolve(ctx context.Context, device string, sample telemetry.GeoSample) (string, time.Time)
	Prime(device, placeName string, resolvedAt time.Time)
}

// Options configures the engine. Zero fields get defaults in New.
type Options struct {
	Selector      string
	Interval      time.Duration
	Epsilon       float64
	Concurrency   int
	DeviceTimeout time.Duration
}

// PassResult aggregates one fleet-wide pass. Succeeded counts devices whose
// chain completed, whether or not a write was needed; Updated counts actual
// registry writes.
type PassResult struct {
	Candidates int
	Succeeded  int
	Updated    int
	Failed     int
}

// SoftFailure reports whether the pass reconciled nothing despite having
// candidates, the signal that the fleet is unreachable rather than idle.
func (r PassResult) SoftFailure() bool {
	return r.Candidates > 0 && r.Succeeded == 0
}

// Engine runs reconciliation passes, single-shot or on a fixed interval.
type Engine struct {
	registry Registry
	source   TelemetrySource
	resolver PlaceResolver
	opts     Options
	log      logr.Logger
	clock    Clock
}

// New creates an engine. Concurrency 1 reconciles devices sequentially;
// higher values fan devices out over a bounded worker pool.
func New(reg Registry, source TelemetrySource, resolver PlaceResolver, opts Options, log logr.Logger) *Engine {
	if opts.Selector == "" {
		opts.Selector = registry.DefaultSelector
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = defaultDeviceTimeout
	}
	return &Engine{
		registry: reg,
		source:   source,
		resolver: resolver,
		opts:     opts,
		log:      log,
		clock:    realClock{},
	}
}

// WithClock replaces the engine clock. Tests use this to drive the loop.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

// RunOnce executes exactly one fleet-wide pass.
func (e *Engine) RunOnce(ctx context.Context) (PassResult, error) {
	start := e.clock.Now()

	devices, err := e.registry.ListCandidates(ctx, e.opts.Selector)
	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		return PassResult{}, fmt.Errorf("candidate list unavailable: %w", err)
	}

	result := PassResult{Candidates: len(devices)}
	if len(devices) == 0 {
		e.log.Info("no candidate devices matched selector", "selector", e.opts.Selector)
		passesTotal.WithLabelValues("empty").Inc()
		return result, nil
	}

	for outcome := range e.fanOut(ctx, devices) {
		switch {
		case outcome.err != nil:
			result.Failed++
			deviceFailuresTotal.WithLabelValues(outcome.reason).Inc()
			devicesTotal.WithLabelValues("failed").Inc()
			e.log.V(1).Info("device skipped for this pass",
				"device", outcome.device, "reason", outcome.reason, "error", outcome.err.Error())
		case outcome.updated:
			result.Succeeded++
			result.Updated++
			devicesTotal.WithLabelValues("updated").Inc()
		default:
			result.Succeeded++
			devicesTotal.WithLabelValues("unchanged").Inc()
		}
	}

	elapsed := e.clock.Now().Sub(start)
	passDuration.Observe(elapsed.Seconds())
	if result.SoftFailure() {
		passesTotal.WithLabelValues("soft_failure").Inc()
	} else {
		passesTotal.WithLabelValues("ok").Inc()
	}

	e.log.Info("pass complete",
		"candidates", result.Candidates,
		"succeeded", result.Succeeded,
		"updated", result.Updated,
		"failed", result.Failed,
		"elapsed", elapsed.String(),
	)
	return result, nil
}

// Run executes passes back to back, separated by the configured interval,
// until the context is cancelled. An in-flight pass finishes; no new pass
// starts once shutdown is observed, and the inter-pass sleep is
// interruptible. Pass-level failures are logged, the loop keeps going: the
// registry coming back on the next tick is the expected recovery path.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("starting reconciliation loop",
		"interval", e.opts.Interval.String(),
		"selector", e.opts.Selector,
		"concurrency", e.opts.Concurrency,
	)

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				e.log.Info("shutdown observed, stopping reconciliation loop")
				return nil
			}
			e.log.Error(err, "pass failed")
		}

		select {
		case <-ctx.Done():
			e.log.Info("shutdown observed, stopping reconciliation loop")
			return nil
		case <-e.clock.After(e.opts.Interval):
		}
	}
}

// deviceOutcome is one device's result within a pass.
type deviceOutcome struct {
	device  string
	updated bool
	reason  string
	err     error
}

// fanOut feeds devices to a bounded worker pool and returns the channel of
// per-device outcomes. Devices share no mutable state, so no ordering or
// locking is needed across them.
func (e *Engine) fanOut(ctx context.Context, devices []registry.DeviceIdentity) <-chan deviceOutcome {
	work := make(chan registry.DeviceIdentity)
	outcomes := make(chan deviceOutcome)

	workers := e.opts.Concurrency
	if workers > len(devices) {
		workers = len(devices)
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for device := range work {
				outcomes <- e.reconcileDevice(ctx, device)
			}
		}()
	}

	go func() {
		for _, device := range devices {
			work <- device
		}
		close(work)
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// reconcileDevice runs one device's fetch → detect → enrich → write chain.
// Every error is classified and contained here; the pass never aborts on a
// single device.
func (e *Engine) reconcileDevice(ctx context.Context, device registry.DeviceIdentity) deviceOutcome {
	// A node without any address would otherwise dial localhost.
	if device.Address == "" {
		return deviceOutcome{
			device: device.Name,
			reason: "unaddressable",
			err:    errors.New("node reports no internal or external address"),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.DeviceTimeout)
	defer cancel()

	sample, err := e.source.Fetch(ctx, device.Address)
	if err != nil {
		return deviceOutcome{device: device.Name, reason: failureReason(err), err: err}
	}

	record, err := e.registry.GetRecord(ctx, device.Name)
	if err != nil {
		return deviceOutcome{device: device.Name, reason: "registry_read", err: err}
	}

	if record != nil {
		// Seed the resolver from the durable mirror so a restart does not
		// re-resolve a fleet that was enriched within the TTL.
		e.resolver.Prime(device.Name, record.PlaceName, record.PlaceNameResolvedAt)

		if !Changed(&record.Sample, sample, e.opts.Epsilon) {
			return deviceOutcome{device: device.Name}
		}
	}

	placeName, resolvedAt := e.enrich(ctx, device.Name, sample)

	updated := registry.LocationRecord{
		Sample:              sample,
		PlaceName:           placeName,
		PlaceNameResolvedAt: resolvedAt,
		Status:              registry.StatusActive,
		UpdatedAt:           e.clock.Now(),
	}
	if err := e.registry.WriteRecord(ctx, device.Name, updated); err != nil {
		return deviceOutcome{device: device.Name, reason: "registry_write", err: err}
	}

	return deviceOutcome{device: device.Name, updated: true}
}

// enrich produces the place name for a sample. A device that reports its
// own city short-circuits the external lookup; everything else goes through
// the cache-first resolver.
func (e *Engine) enrich(ctx context.Context, device string, sample telemetry.GeoSample) (string, time.Time) {
	if sample.City != "" {
		return sample.City, e.clock.Now()
	}
	return e.resolver.Resolve(ctx, device, sample)
}

// failureReason maps a classified telemetry error to a metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, telemetry.ErrMalformed):
		return "malformed"
	case errors.Is(err, telemetry.ErrInvalid):
		return "invalid"
	default:
		return "unknown"
	}
}
