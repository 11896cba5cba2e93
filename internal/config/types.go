// Package config loads, validates and hot-reloads the daemon
// configuration. YAML and JSON are both accepted; YAML is coerced to
// JSON so one strict decoder covers both.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Server   ServerConfig   `json:"server"`
	Probe    ProbeConfig    `json:"probe"`
	Scanner  ScannerConfig  `json:"scanner"`
	Measure  MeasureConfig  `json:"measure"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Web      WebConfig      `json:"web"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Format  string `json:"format"` // "console" or "json"
	File    string `json:"file"`
	Caller  bool   `json:"caller"`
	NoColor bool   `json:"no_color"`
}

// ServerConfig controls the bandwidth protocol server.
type ServerConfig struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`
}

type ProbeConfig struct {
	// PerProbeTimeout is a duration string, e.g. "1s".
	PerProbeTimeout string `json:"per_probe_timeout"`
}

type ScannerConfig struct {
	NetworkPrefix  string `json:"network_prefix"`
	MaxWorkers     int    `json:"max_workers"`
	ProbesPerSec   int    `json:"probes_per_sec"`
	SamplesPerHost int    `json:"samples_per_host"`
}

// MeasureConfig controls orchestrated runs.
type MeasureConfig struct {
	// Provider selects the throughput backend: "lan" or "internet".
	Provider        string `json:"provider"`
	ReferenceTarget string `json:"reference_target"`
	LatencyProbes   int    `json:"latency_probes"`
	GatewayProbes   int    `json:"gateway_probes"`
	SamplerDelay    string `json:"sampler_delay"`
	PhaseTimeout    string `json:"phase_timeout"`

	// LAN provider settings.
	LANHost          string `json:"lan_host"`
	LANPort          int    `json:"lan_port"`
	LANTransferBytes uint64 `json:"lan_transfer_bytes"`
}

type ScheduleConfig struct {
	Enabled bool `json:"enabled"`
	// MeasureSpec is a cron expression for periodic runs.
	MeasureSpec string `json:"measure_spec"`
	// ScanSpec is a cron expression for periodic device scans.
	ScanSpec string `json:"scan_spec"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type WebConfig struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`
}

// Default returns a config with every subsystem at its defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Server:  ServerConfig{Enabled: true, BindAddress: "0.0.0.0", Port: 5201},
		Probe:   ProbeConfig{PerProbeTimeout: "1s"},
		Scanner: ScannerConfig{MaxWorkers: 30, ProbesPerSec: 50, SamplesPerHost: 3},
		Measure: MeasureConfig{
			Provider:        "lan",
			ReferenceTarget: "8.8.8.8",
			LatencyProbes:   5,
			GatewayProbes:   3,
			SamplerDelay:    "8s",
			PhaseTimeout:    "60s",
			LANPort:         5201,
		},
		Schedule: ScheduleConfig{MeasureSpec: "0 * * * *", ScanSpec: "*/15 * * * *"},
		Storage:  StorageConfig{Path: "./data/netwatch.db", BusyTimeout: "5s"},
		Web:      WebConfig{Enabled: true, BindAddress: "127.0.0.1", Port: 8080},
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("server.port: %d out of range", c.Server.Port)
		}
	}
	if c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			return fmt.Errorf("web.port: %d out of range", c.Web.Port)
		}
	}
	switch c.Measure.Provider {
	case "", "lan", "internet":
	default:
		return fmt.Errorf("measure.provider: unknown provider %q", c.Measure.Provider)
	}
	if c.Measure.Provider == "lan" && c.Measure.LANHost == "" {
		return fmt.Errorf("measure.lan_host is required for the lan provider")
	}
	if _, err := ParseDurationField("probe.per_probe_timeout", c.Probe.PerProbeTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("measure.sampler_delay", c.Measure.SamplerDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("measure.phase_timeout", c.Measure.PhaseTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// Duration fields ride in the file as strings ("8s", "2m") so the YAML
// stays readable; parsing is strict and negative values are rejected
// at Validate time rather than surfacing mid-run.

// ParseDurationField parses one duration field. Empty means unset and
// yields 0; callers substitute their own default.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for unset fields; malformed
// values still error.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// SamplerDelayOrDefault parses the sampler delay, defaulting to 8s.
func (c *MeasureConfig) SamplerDelayOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("measure.sampler_delay", c.SamplerDelay, 8*time.Second)
	if err != nil {
		return 8 * time.Second
	}
	return d
}

// PhaseTimeoutOrDefault parses the phase timeout, defaulting to 60s.
func (c *MeasureConfig) PhaseTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("measure.phase_timeout", c.PhaseTimeout, 60*time.Second)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
