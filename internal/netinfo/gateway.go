// Package netinfo inspects the local host's network position: default
// gateway, local address/interface, and whether the active link is
// wired or wireless.
package netinfo

import (
	"context"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

var viaPattern = regexp.MustCompile(`via\s+(\d+\.\d+\.\d+\.\d+)`)
var ipPattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// Resolver finds the LAN default gateway.
//
// A VPN frequently hijacks the default route, so candidates from the
// full routing table are considered too and RFC1918 gateways win over
// whatever the default route points at.
type Resolver struct {
	log logx.Logger

	// runCmd is swappable for tests.
	runCmd func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewResolver(log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{log: log, runCmd: runCommand}
}

// DefaultGateway returns the preferred gateway address, or "" when no
// route could be discovered.
func (r *Resolver) DefaultGateway(ctx context.Context) string {
	var gateways []string
	if runtime.GOOS == "windows" {
		gateways = r.windowsGateways(ctx)
	} else {
		gateways = r.unixGateways(ctx)
	}
	return PickGateway(gateways)
}

// PickGateway prefers RFC1918 candidates over VPN-imposed routes,
// falling back to the first candidate seen.
func PickGateway(gateways []string) string {
	for _, gw := range gateways {
		ip := net.ParseIP(gw)
		if ip != nil && ip.IsPrivate() {
			return gw
		}
	}
	if len(gateways) > 0 {
		return gateways[0]
	}
	return ""
}

func (r *Resolver) unixGateways(ctx context.Context) []string {
	var gateways []string
	appendUnique := func(gw string) {
		for _, g := range gateways {
			if g == gw {
				return
			}
		}
		gateways = append(gateways, gw)
	}

	// Default route first: it stays the fallback when nothing private shows up.
	if out, err := r.runCmd(ctx, "ip", "route", "show", "default"); err == nil {
		for _, m := range viaPattern.FindAllSubmatch(out, -1) {
			appendUnique(string(m[1]))
		}
	} else {
		r.log.Debug("default route lookup failed", logx.Err(err))
	}

	// Full table catches the LAN gateway when a VPN owns the default route.
	if out, err := r.runCmd(ctx, "ip", "route", "show"); err == nil {
		for _, m := range viaPattern.FindAllSubmatch(out, -1) {
			gw := string(m[1])
			if ip := net.ParseIP(gw); ip != nil && ip.IsPrivate() {
				appendUnique(gw)
			}
		}
	}
	return gateways
}

func (r *Resolver) windowsGateways(ctx context.Context) []string {
	out, err := r.runCmd(ctx, "route", "print", "0.0.0.0")
	if err != nil {
		r.log.Debug("route print failed", logx.Err(err))
		return nil
	}
	var gateways []string
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "0.0.0.0") {
			continue
		}
		for _, f := range strings.Fields(line) {
			if !ipPattern.MatchString(f) || f == "0.0.0.0" || strings.HasPrefix(f, "255.") {
				continue
			}
			gateways = append(gateways, f)
		}
	}
	return gateways
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}
