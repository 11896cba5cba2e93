package netinfo

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

func TestPickGateway(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		gateways []string
		want     string
	}{
		{
			name:     "private gateway wins over vpn route",
			gateways: []string{"10.8.0.1", "192.168.1.1"},
			want:     "10.8.0.1", // 10.x is private too; first private wins
		},
		{
			name:     "public default falls back when a private candidate exists",
			gateways: []string{"100.64.0.1", "192.168.1.1"},
			want:     "192.168.1.1",
		},
		{
			name:     "no private candidate keeps the first",
			gateways: []string{"100.64.0.1", "100.64.0.2"},
			want:     "100.64.0.1",
		},
		{
			name:     "empty list",
			gateways: nil,
			want:     "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PickGateway(tt.gateways); got != tt.want {
				t.Fatalf("PickGateway(%v) = %q, want %q", tt.gateways, got, tt.want)
			}
		})
	}
}

func TestUnixGatewaysPrefersLANOverVPN(t *testing.T) {
	t.Parallel()
	r := NewResolver(logx.Nop())
	r.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		cmd := name + " " + strings.Join(args, " ")
		switch cmd {
		case "ip route show default":
			return []byte("default via 10.8.0.1 dev tun0 proto static metric 50\n"), nil
		case "ip route show":
			return []byte(
				"default via 10.8.0.1 dev tun0 proto static metric 50\n" +
					"192.168.1.0/24 dev eth0 proto kernel scope link src 192.168.1.10\n" +
					"192.168.2.0/24 via 192.168.1.1 dev eth0\n"), nil
		}
		return nil, errors.New("unexpected command: " + cmd)
	}

	gateways := r.unixGateways(context.Background())
	if len(gateways) != 2 {
		t.Fatalf("gateways = %v, want 2 candidates", gateways)
	}
	if gateways[0] != "10.8.0.1" || gateways[1] != "192.168.1.1" {
		t.Fatalf("gateways = %v", gateways)
	}
	// Both are private here, so the default route still wins the pick.
	if got := PickGateway(gateways); got != "10.8.0.1" {
		t.Fatalf("picked %q", got)
	}
}

func TestUnixGatewaysDeduplicates(t *testing.T) {
	t.Parallel()
	r := NewResolver(logx.Nop())
	r.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("default via 192.168.1.1 dev eth0\n"), nil
	}
	gateways := r.unixGateways(context.Background())
	if len(gateways) != 1 || gateways[0] != "192.168.1.1" {
		t.Fatalf("gateways = %v, want single 192.168.1.1", gateways)
	}
}

func TestUnixGatewaysCommandFailure(t *testing.T) {
	t.Parallel()
	r := NewResolver(logx.Nop())
	r.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("ip: not found")
	}
	if gateways := r.unixGateways(context.Background()); len(gateways) != 0 {
		t.Fatalf("gateways = %v, want none", gateways)
	}
}

func TestWindowsGateways(t *testing.T) {
	t.Parallel()
	r := NewResolver(logx.Nop())
	r.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(
			"Network Destination        Netmask          Gateway       Interface  Metric\r\n" +
				"          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.10     25\r\n"), nil
	}
	gateways := r.windowsGateways(context.Background())
	if len(gateways) == 0 || gateways[0] != "192.168.1.1" {
		t.Fatalf("gateways = %v", gateways)
	}
}

func TestInterfaceNameWired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want bool
	}{
		{"eth0", true},
		{"enp3s0", true},
		{"eno1", true},
		{"wlan0", false},
		{"wlp2s0", false},
		{"Wi-Fi", false},
		{"ath0", false},
		{"br0", true},
	}
	for _, tt := range tests {
		if got := InterfaceNameWired(tt.name); got != tt.want {
			t.Errorf("InterfaceNameWired(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLocalIPIsParseable(t *testing.T) {
	t.Parallel()
	ip := LocalIP()
	if ip == "" {
		t.Fatal("empty local IP")
	}
}
