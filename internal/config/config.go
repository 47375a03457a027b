// Package config holds the locationd configuration: an optional YAML file
// with defaults applied after unmarshal, validated before use. CLI flags
// override file values; the merge happens in the command handler.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Telemetry source kinds.
const (
	SourceHTTP = "http"
	SourceSSH  = "ssh"
)

// Config is the full locationd configuration.
type Config struct {
	// Interval between passes, in seconds.
	Interval int `yaml:"interval"`

	// Selector matches the candidate device nodes.
	Selector string `yaml:"selector"`

	// Epsilon is the per-axis coordinate delta (degrees) that counts as
	// movement.
	Epsilon float64 `yaml:"epsilon"`

	// Concurrency bounds the per-device fan-out. 1 reconciles devices
	// sequentially.
	Concurrency int `yaml:"concurrency"`

	// Kubeconfig is used outside the cluster; empty means in-cluster
	// config with the default kubeconfig as fallback.
	Kubeconfig string `yaml:"kubeconfig"`

	// MetricsBindAddress serves Prometheus metrics in continuous mode
	// when non-empty, e.g. ":9090".
	MetricsBindAddress string `yaml:"metricsBindAddress"`

	Telemetry Telemetry `yaml:"telemetry"`
	Geocoder  Geocoder  `yaml:"geocoder"`
}

// Telemetry selects and configures the device transport.
type Telemetry struct {
	// Source is "http" or "ssh".
	Source string `yaml:"source"`

	// Port of the device's location endpoint (HTTP) or sshd (SSH).
	// 0 selects the source's default: 8080 for http, 8022 for ssh.
	Port int `yaml:"port"`

	SSH SSH `yaml:"ssh"`
}

// SSH configures the SSH telemetry source.
type SSH struct {
	User    string `yaml:"user"`
	KeyFile string `yaml:"keyFile"`
	Command string `yaml:"command"`
}

// Geocoder configures the reverse-geocoding enrichment service.
type Geocoder struct {
	// URL is the base URL of the enrichment service. Required: without it
	// every place name would degrade to the sentinel.
	URL    string `yaml:"url"`
	Method string `yaml:"method"`

	// TTL for cached place names, as a Go duration string ("24h").
	TTL Duration `yaml:"ttl"`
}

// Duration wraps time.Duration for YAML ("30s", "24h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Interval:    30,
		Selector:    "device-type=phone",
		Epsilon:     0.0001,
		Concurrency: 1,
		Telemetry: Telemetry{
			Source: SourceHTTP,
		},
		Geocoder: Geocoder{
			URL:    "http://geocoder.default.svc:8090",
			Method: "auto",
			TTL:    Duration(24 * time.Hour),
		},
	}
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", c.Interval)
	}
	if c.Selector == "" {
		return fmt.Errorf("selector is required")
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %v", c.Epsilon)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Telemetry.Port < 0 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("telemetry port %d out of range", c.Telemetry.Port)
	}

	switch c.Telemetry.Source {
	case SourceHTTP:
	case SourceSSH:
		if c.Telemetry.SSH.User == "" {
			return fmt.Errorf("telemetry.ssh.user is required for the ssh source")
		}
		if c.Telemetry.SSH.KeyFile == "" {
			return fmt.Errorf("telemetry.ssh.keyFile is required for the ssh source")
		}
	default:
		return fmt.Errorf("unknown telemetry source %q (want %q or %q)",
			c.Telemetry.Source, SourceHTTP, SourceSSH)
	}

	if c.Geocoder.URL == "" {
		return fmt.Errorf("geocoder url is required")
	}
	if c.Geocoder.TTL <= 0 {
		return fmt.Errorf("geocoder ttl must be positive")
	}
	return nil
}
