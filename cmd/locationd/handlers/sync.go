// Package handlers implements command execution for the locationd CLI.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/parttimenerd/local-android-ai-sub000/internal/config"
	"github.com/parttimenerd/local-android-ai-sub000/internal/geocode"
	"github.com/parttimenerd/local-android-ai-sub000/internal/reconcile"
	"github.com/parttimenerd/local-android-ai-sub000/internal/registry"
	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

// SyncOptions carries the mode flags that are not part of the config file.
type SyncOptions struct {
	Once    bool
	Verbose bool
}

// Sync handles the sync command: it wires the registry, telemetry source,
// resolver and engine together and runs either a single pass or the
// interval loop until the context is cancelled.
func Sync(ctx context.Context, cfg *config.Config, opts SyncOptions) error {
	log := newLogger(opts.Verbose)

	reg, err := registry.NewClient(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to create registry client: %w", err)
	}

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}

	resolver := geocode.NewResolver(cfg.Geocoder.URL, log.WithName("geocode"),
		geocode.WithTTL(time.Duration(cfg.Geocoder.TTL)),
		geocode.WithMethod(cfg.Geocoder.Method),
	)

	engine := reconcile.New(reg, source, resolver, reconcile.Options{
		Selector:    cfg.Selector,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Epsilon:     cfg.Epsilon,
		Concurrency: cfg.Concurrency,
	}, log.WithName("reconcile"))

	if opts.Once {
		result, err := engine.RunOnce(ctx)
		if err != nil {
			return err
		}
		if result.SoftFailure() {
			return fmt.Errorf("no devices reconciled: %d candidates, %d failures",
				result.Candidates, result.Failed)
		}
		return nil
	}

	if cfg.MetricsBindAddress != "" {
		stopMetrics := serveMetrics(cfg.MetricsBindAddress, log)
		defer stopMetrics()
	}

	return engine.Run(ctx)
}

// newLogger builds the process logger. Verbose mode enables the V(1)
// per-device failure logs; a terminal on stderr gets the console encoder
// instead of JSON.
func newLogger(verbose bool) logr.Logger {
	zapOpts := []ctrlzap.Opts{ctrlzap.UseDevMode(verbose)}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		zapOpts = append(zapOpts, ctrlzap.ConsoleEncoder())
	}

	log := ctrlzap.New(zapOpts...)
	ctrllog.SetLogger(log)
	return log
}

// buildSource picks the telemetry transport from the configuration.
func buildSource(cfg *config.Config) (reconcile.TelemetrySource, error) {
	switch cfg.Telemetry.Source {
	case config.SourceSSH:
		source, err := telemetry.NewSSHSource(
			cfg.Telemetry.SSH.User,
			cfg.Telemetry.SSH.KeyFile,
			cfg.Telemetry.SSH.Command,
			cfg.Telemetry.Port,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ssh telemetry source: %w", err)
		}
		return source, nil
	default:
		return telemetry.NewHTTPSource(cfg.Telemetry.Port), nil
	}
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func serveMetrics(addr string, log logr.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
