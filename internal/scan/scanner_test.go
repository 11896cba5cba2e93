package scan

import (
	"context"
	"testing"

	"github.com/c4g7-dev/netwatch/internal/classify"
	"github.com/c4g7-dev/netwatch/internal/measure"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

func TestParseARPTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		out  string
		want map[string]string
	}{
		{
			name: "linux arp -n",
			out: "Address                  HWtype  HWaddress           Flags Mask            Iface\n" +
				"192.168.1.1              ether   a4:2b:b0:c1:d2:e3   C                     eth0\n" +
				"192.168.1.50             ether   00:11:22:33:44:55   C                     eth0\n",
			want: map[string]string{
				"192.168.1.1":  "A4:2B:B0:C1:D2:E3",
				"192.168.1.50": "00:11:22:33:44:55",
			},
		},
		{
			name: "windows arp -a with dashes",
			out: "Interface: 192.168.1.10 --- 0x4\n" +
				"  Internet Address      Physical Address      Type\n" +
				"  192.168.1.1           a4-2b-b0-c1-d2-e3     dynamic\n",
			want: map[string]string{
				"192.168.1.1": "A4:2B:B0:C1:D2:E3",
			},
		},
		{
			name: "incomplete entries are skipped",
			out:  "192.168.1.99             (incomplete)                              eth0\n",
			want: map[string]string{},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseARPTable(tt.out)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for ip, mac := range tt.want {
				if got[ip] != mac {
					t.Fatalf("mac for %s = %q, want %q", ip, got[ip], mac)
				}
			}
		})
	}
}

// fakePinger answers only for the hosts it knows.
type fakePinger struct {
	hosts map[string]measure.LatencyStats
}

func (f *fakePinger) Probe(ctx context.Context, host string, count int) measure.LatencyStats {
	if st, ok := f.hosts[host]; ok {
		return st
	}
	return measure.LatencyStats{OK: false, LossPct: 100}
}

func newTestScanner(pinger Pinger) *Scanner {
	s := New(Config{NetworkPrefix: "192.168.1", SamplesPerHost: 3}, pinger, logx.Nop())
	s.resolveHostname = func(ctx context.Context, ip string) string {
		if ip == "192.168.1.1" {
			return "gateway"
		}
		return ""
	}
	s.arpTable = func(ctx context.Context) map[string]string {
		return map[string]string{
			"192.168.1.1":  "A4:2B:B0:C1:D2:E3",
			"192.168.1.50": "00:11:22:33:44:55",
		}
	}
	return s
}

func TestQuickScanProbesARPHosts(t *testing.T) {
	t.Parallel()
	pinger := &fakePinger{hosts: map[string]measure.LatencyStats{
		"192.168.1.1": {OK: true, AvgMs: 0.8, JitterMs: 0.1, Samples: 3},
		// 192.168.1.50 is in ARP but never answers.
	}}
	s := newTestScanner(pinger)

	found := s.ScanNetwork(context.Background())

	var gw *Device
	for i := range found {
		if found[i].IP == "192.168.1.1" {
			gw = &found[i]
		}
		if found[i].IP == "192.168.1.50" && !found[i].IsLocal {
			t.Fatal("unreachable host must not be reported")
		}
	}
	if gw == nil {
		t.Fatal("gateway not found")
	}
	if gw.MAC != "A4:2B:B0:C1:D2:E3" {
		t.Fatalf("MAC = %q", gw.MAC)
	}
	if gw.Hostname != "gateway" {
		t.Fatalf("hostname = %q", gw.Hostname)
	}
	if gw.ConnectionType != classify.Lan {
		t.Fatalf("connection type = %s, want lan", gw.ConnectionType)
	}
	if gw.PingMs == nil || *gw.PingMs != 0.8 {
		t.Fatalf("ping = %v", gw.PingMs)
	}
	if !gw.Online {
		t.Fatal("gateway must be online")
	}
}

func TestScannerKeepsSnapshot(t *testing.T) {
	t.Parallel()
	pinger := &fakePinger{hosts: map[string]measure.LatencyStats{
		"192.168.1.1": {OK: true, AvgMs: 1.0, JitterMs: 0.2, Samples: 3},
	}}
	s := newTestScanner(pinger)

	s.ScanNetwork(context.Background())

	d, ok := s.Get("192.168.1.1")
	if !ok {
		t.Fatal("device not retained")
	}
	if d.IP != "192.168.1.1" {
		t.Fatalf("IP = %q", d.IP)
	}
	if len(s.Devices()) == 0 {
		t.Fatal("snapshot empty")
	}
}

func TestQuickScanExcludesLocalIP(t *testing.T) {
	t.Parallel()
	pinger := &fakePinger{hosts: map[string]measure.LatencyStats{}}
	s := newTestScanner(pinger)

	// QuickScan only visits ARP entries; with nothing answering, the
	// result is at most the synthesized local device.
	found := s.QuickScan(context.Background())
	for _, d := range found {
		if !d.IsLocal {
			t.Fatalf("unexpected remote device %s", d.IP)
		}
	}
}

func TestScannerConfigDefaults(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxWorkers: 500}, &fakePinger{}, logx.Nop())
	if s.cfg.MaxWorkers != 30 {
		t.Fatalf("MaxWorkers = %d, want clamped to 30", s.cfg.MaxWorkers)
	}
	if s.cfg.ProbesPerSec != 50 || s.cfg.SamplesPerHost != 3 {
		t.Fatalf("defaults not applied: %+v", s.cfg)
	}
}
