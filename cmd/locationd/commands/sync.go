package commands

import (
	"github.com/spf13/cobra"

	"github.com/parttimenerd/local-android-ai-sub000/cmd/locationd/handlers"
	"github.com/parttimenerd/local-android-ai-sub000/internal/config"
)

// Sync returns the command that runs the reconciliation loop.
//
// Optional flags:
//
//	--config, -c: path to a YAML configuration file
//	--interval: seconds between passes in continuous mode
//	--once: run exactly one pass and exit
//	--port: device telemetry endpoint port
//	--selector: node label selector for candidate devices
//	--geocoder-url: base URL of the reverse-geocoding service
//	--verbose, -v: log every classified per-device failure
func Sync() *cobra.Command {
	var (
		configPath  string
		interval    int
		once        bool
		port        int
		verbose     bool
		selector    string
		kubeconfig  string
		concurrency int
		metricsAddr string
		geocoderURL string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Poll phone locations and write them to node labels",
		Long: `Reconcile the fleet's physical locations into the cluster.

Each pass lists the nodes matching the device selector, queries every
device's location endpoint, and updates the node's phone.location/ labels
when the device has moved more than the configured epsilon. Place names are
resolved through the reverse-geocoding service and cached per device.

Examples:
  # Run one pass and exit (exit code 1 if nothing could be reconciled)
  locationd sync --once

  # Reconcile every two minutes, four devices at a time
  locationd sync --interval 120 --concurrency 4

  # Use a config file, overriding its port
  locationd sync --config locationd.yaml --port 9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Explicit flags win over file values.
			flags := cmd.Flags()
			if flags.Changed("interval") {
				cfg.Interval = interval
			}
			if flags.Changed("port") {
				cfg.Telemetry.Port = port
			}
			if flags.Changed("selector") {
				cfg.Selector = selector
			}
			if flags.Changed("kubeconfig") {
				cfg.Kubeconfig = kubeconfig
			}
			if flags.Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if flags.Changed("metrics-bind-address") {
				cfg.MetricsBindAddress = metricsAddr
			}
			if flags.Changed("geocoder-url") {
				cfg.Geocoder.URL = geocoderURL
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return handlers.Sync(cmd.Context(), cfg, handlers.SyncOptions{
				Once:    once,
				Verbose: verbose,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&interval, "interval", 30, "Seconds between passes in continuous mode")
	cmd.Flags().BoolVar(&once, "once", false, "Run exactly one pass and exit")
	cmd.Flags().IntVar(&port, "port", 0, "Device telemetry port (default 8080 for http, 8022 for ssh)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every classified per-device failure")
	cmd.Flags().StringVar(&selector, "selector", "device-type=phone", "Label selector for candidate devices")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: in-cluster)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Devices reconciled in parallel")
	cmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", "", "Address for the Prometheus metrics endpoint (continuous mode)")
	cmd.Flags().StringVar(&geocoderURL, "geocoder-url", "", "Base URL of the reverse-geocoding service")

	return cmd
}
