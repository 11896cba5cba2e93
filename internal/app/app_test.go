package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c4g7-dev/netwatch/internal/eventbus"
)

// A taken bandwidth port must not take the daemon down with it: the
// failure is published on the bus and everything else keeps running.
func TestStartSurvivesBandwidthBindFailure(t *testing.T) {
	t.Parallel()

	// Occupy a port so the bandwidth server cannot bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "netwatch.yaml")
	cfgYAML := fmt.Sprintf(`logging:
  level: error
server:
  enabled: true
  bind_address: 127.0.0.1
  port: %d
measure:
  provider: lan
  lan_host: 192.168.1.5
schedule:
  enabled: false
web:
  enabled: false
storage:
  path: %s
`, port, filepath.Join(dir, "netwatch.db"))
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	sub, unsub := a.bus.Subscribe(4)
	defer unsub()

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start returned %v, want nil despite bind failure", err)
	}
	defer func() {
		if err := a.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	if a.bwsrv.Running() {
		t.Fatal("bandwidth server reports running after failed bind")
	}

	select {
	case e := <-sub:
		if e.Type != eventbus.TypeServerState || e.Data != "error" {
			t.Fatalf("event = %+v, want server.state error", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no server state event published")
	}
}
