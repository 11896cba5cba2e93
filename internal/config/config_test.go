package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.yaml", `
measure:
  provider: lan
  lan_host: 192.168.1.5
  lan_port: 5202
server:
  enabled: false
web:
  port: 9090
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Measure.LANHost != "192.168.1.5" || cfg.Measure.LANPort != 5202 {
		t.Fatalf("measure = %+v", cfg.Measure)
	}
	if cfg.Server.Enabled {
		t.Fatal("server.enabled not overridden")
	}
	if cfg.Web.Port != 9090 {
		t.Fatalf("web.port = %d", cfg.Web.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Scanner.MaxWorkers != 30 {
		t.Fatalf("scanner.max_workers = %d, want default 30", cfg.Scanner.MaxWorkers)
	}
	if cfg.Schedule.MeasureSpec != "0 * * * *" {
		t.Fatalf("schedule.measure_spec = %q", cfg.Schedule.MeasureSpec)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed snapshot")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.json",
		`{"measure": {"provider": "internet"}, "storage": {"path": "/tmp/nw.db"}}`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Measure.Provider != "internet" {
		t.Fatalf("provider = %q", cfg.Measure.Provider)
	}
	if cfg.Storage.Path != "/tmp/nw.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
}

func TestStrictParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.yaml", `
measure:
  provider: lan
  lan_host: 192.168.1.5
  lan_speed: fast
`)
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown-field rejection", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.json", `{"web": {"port": 8080}} {"extra": true}`)
	if _, err := m.Load(); err == nil {
		t.Fatal("expected trailing-data rejection")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults with lan host are valid",
			mutate: func(c *Config) { c.Measure.LANHost = "192.168.1.5" },
		},
		{
			name:    "lan provider requires a host",
			mutate:  func(c *Config) { c.Measure.LANHost = "" },
			wantErr: "lan_host",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Measure.Provider = "carrier-pigeon"
			},
			wantErr: "unknown provider",
		},
		{
			name: "server port out of range",
			mutate: func(c *Config) {
				c.Measure.LANHost = "h"
				c.Server.Port = 70000
			},
			wantErr: "server.port",
		},
		{
			name: "disabled server skips port validation",
			mutate: func(c *Config) {
				c.Measure.LANHost = "h"
				c.Server.Enabled = false
				c.Server.Port = 0
			},
		},
		{
			name: "bad duration",
			mutate: func(c *Config) {
				c.Measure.LANHost = "h"
				c.Measure.SamplerDelay = "soon"
			},
			wantErr: "sampler_delay",
		},
		{
			name: "missing storage path",
			mutate: func(c *Config) {
				c.Measure.LANHost = "h"
				c.Storage.Path = ""
			},
			wantErr: "storage.path",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()
	mc := MeasureConfig{}
	if d := mc.SamplerDelayOrDefault(); d != 8*time.Second {
		t.Fatalf("sampler delay default = %v", d)
	}
	mc.PhaseTimeout = "2m"
	if d := mc.PhaseTimeoutOrDefault(); d != 2*time.Minute {
		t.Fatalf("phase timeout = %v", d)
	}
}

func TestReloadKeepsRunningConfigOnBrokenFile(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.yaml", `
measure:
  lan_host: 192.168.1.5
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Overwrite with garbage; reload must not clobber the snapshot.
	if err := os.WriteFile(m.path, []byte("measure: [unclosed\n"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	m.reload()
	if m.Get() != cfg {
		t.Fatal("broken file replaced the committed config")
	}
}

func TestReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "netwatch.yaml", `
measure:
  lan_host: 192.168.1.5
`)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Identical content: hash match suppresses the publish.
	m.reload()
	select {
	case <-sub:
		t.Fatal("unchanged reload published")
	default:
	}

	if err := os.WriteFile(m.path, []byte("measure:\n  lan_host: 192.168.1.6\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()
	select {
	case cfg := <-sub:
		if cfg.Measure.LANHost != "192.168.1.6" {
			t.Fatalf("published host = %q", cfg.Measure.LANHost)
		}
	case <-time.After(time.Second):
		t.Fatal("change not published")
	}
}

func TestCoerceToJSONPassesJSONThrough(t *testing.T) {
	t.Parallel()
	in := []byte(`{"a": 1}`)
	out, err := coerceToJSONBytes("config.json", in)
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("json mangled: %q", out)
	}
}
