// Package scan discovers devices on the local subnet and classifies
// their connection type from ping/jitter characteristics.
package scan

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c4g7-dev/netwatch/internal/classify"
	"github.com/c4g7-dev/netwatch/internal/measure"
	"github.com/c4g7-dev/netwatch/internal/netinfo"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// Pinger issues multi-sample latency probes; *probe.Prober satisfies it.
type Pinger interface {
	Probe(ctx context.Context, host string, count int) measure.LatencyStats
}

var macPattern = regexp.MustCompile(`(?i)([0-9a-f]{2}[:-]){5}[0-9a-f]{2}`)
var arpLinePattern = regexp.MustCompile(`(?i)(\d+\.\d+\.\d+\.\d+)\D+(([0-9a-f]{2}[:-]){5}[0-9a-f]{2})`)

// Device is one discovered network peer.
type Device struct {
	IP             string           `json:"ip_address"`
	MAC            string           `json:"mac_address"`
	Hostname       string           `json:"hostname"`
	ConnectionType classify.Verdict `json:"connection_type"`
	PingMs         *float64         `json:"ping_ms"`
	JitterMs       *float64         `json:"jitter_ms"`
	Online         bool             `json:"is_online"`
	IsLocal        bool             `json:"is_local"`
	LastSeen       time.Time        `json:"last_seen"`
}

// Config tunes the scanner.
type Config struct {
	// NetworkPrefix like "192.168.1"; auto-detected from the local IP
	// when empty.
	NetworkPrefix string
	// MaxWorkers bounds concurrent probes during a sweep. Default 30.
	MaxWorkers int
	// ProbesPerSec rate-limits probe launches across the pool.
	// Default 50.
	ProbesPerSec int
	// SamplesPerHost is the ping count used for jitter analysis.
	// Default 3.
	SamplesPerHost int
}

// Scanner sweeps the subnet with a bounded worker pool and keeps a
// lock-guarded collection of everything it has seen.
type Scanner struct {
	cfg     Config
	prober  Pinger
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	devices map[string]Device

	resolveHostname func(ctx context.Context, ip string) string
	arpTable        func(ctx context.Context) map[string]string
}

func New(cfg Config, prober Pinger, log logx.Logger) *Scanner {
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > 30 {
		cfg.MaxWorkers = 30
	}
	if cfg.ProbesPerSec <= 0 {
		cfg.ProbesPerSec = 50
	}
	if cfg.SamplesPerHost <= 0 {
		cfg.SamplesPerHost = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{
		cfg:             cfg,
		prober:          prober,
		log:             log,
		limiter:         rate.NewLimiter(rate.Limit(cfg.ProbesPerSec), cfg.ProbesPerSec),
		devices:         map[string]Device{},
		resolveHostname: resolvePTR,
		arpTable:        readARPTable,
	}
}

// Devices returns a snapshot of everything discovered so far.
func (s *Scanner) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Get returns the device with the given IP, if known.
func (s *Scanner) Get(ip string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[ip]
	return d, ok
}

// ScanNetwork sweeps host addresses 1-254 on the local /24.
func (s *Scanner) ScanNetwork(ctx context.Context) []Device {
	prefix := s.cfg.NetworkPrefix
	localIP := netinfo.LocalIP()
	if prefix == "" {
		parts := strings.Split(localIP, ".")
		if len(parts) == 4 {
			prefix = strings.Join(parts[:3], ".")
		}
	}
	if prefix == "" {
		s.log.Warn("cannot determine network prefix; skipping sweep")
		return nil
	}

	targets := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ip := fmt.Sprintf("%s.%d", prefix, i)
		if ip == localIP {
			continue
		}
		targets = append(targets, ip)
	}
	return s.scan(ctx, targets, localIP)
}

// QuickScan probes only the hosts already present in the ARP table.
func (s *Scanner) QuickScan(ctx context.Context) []Device {
	localIP := netinfo.LocalIP()
	arp := s.arpTable(ctx)
	targets := make([]string, 0, len(arp))
	for ip := range arp {
		if ip != localIP {
			targets = append(targets, ip)
		}
	}
	return s.scan(ctx, targets, localIP)
}

func (s *Scanner) scan(ctx context.Context, targets []string, localIP string) []Device {
	start := time.Now()
	arp := s.arpTable(ctx)

	found := make([]Device, 0, len(targets)+1)
	if local := s.localDevice(localIP); local != nil {
		found = append(found, *local)
	}

	var (
		wg      sync.WaitGroup
		foundMu sync.Mutex
	)
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	for _, ip := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()

			d, ok := s.probeHost(ctx, ip, arp[ip])
			if !ok {
				return
			}
			foundMu.Lock()
			found = append(found, d)
			foundMu.Unlock()
		}(ip)
	}
	wg.Wait()

	s.mu.Lock()
	for _, d := range found {
		s.devices[d.IP] = d
	}
	s.mu.Unlock()

	s.log.Info("network scan complete",
		logx.Int("devices", len(found)),
		logx.Duration("took", time.Since(start)),
	)
	return found
}

func (s *Scanner) probeHost(ctx context.Context, ip, mac string) (Device, bool) {
	st := s.prober.Probe(ctx, ip, s.cfg.SamplesPerHost)
	if !st.OK {
		return Device{}, false
	}

	ping := st.AvgMs
	jitter := st.JitterMs
	d := Device{
		IP:       ip,
		MAC:      strings.ToUpper(mac),
		Hostname: s.resolveHostname(ctx, ip),
		PingMs:   &ping,
		JitterMs: &jitter,
		Online:   true,
		LastSeen: time.Now().UTC(),
	}
	d.ConnectionType = classify.Classify(classify.Hints{
		PingMs:   d.PingMs,
		JitterMs: d.JitterMs,
		Hostname: d.Hostname,
		MAC:      d.MAC,
	}).Verdict

	s.log.Debug("device found",
		logx.String("ip", ip),
		logx.String("type", string(d.ConnectionType)),
		logx.Float64("ping_ms", ping),
		logx.Float64("jitter_ms", jitter),
	)
	return d, true
}

// localDevice synthesizes the entry for the machine we run on; its
// connection type comes from interface inspection, not ping scoring.
func (s *Scanner) localDevice(localIP string) *Device {
	hostname, _ := os.Hostname()
	ping := 0.1
	jitter := 0.0
	return &Device{
		IP:             localIP,
		MAC:            netinfo.LocalMAC(),
		Hostname:       hostname,
		ConnectionType: classify.LocalHost(),
		PingMs:         &ping,
		JitterMs:       &jitter,
		Online:         true,
		IsLocal:        true,
		LastSeen:       time.Now().UTC(),
	}
}

// readARPTable shells out to arp and returns ip -> MAC.
func readARPTable(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "arp", "-a")
	} else {
		cmd = exec.CommandContext(ctx, "arp", "-n")
	}
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	return ParseARPTable(string(out))
}

// ParseARPTable extracts ip -> MAC pairs from arp output.
func ParseARPTable(out string) map[string]string {
	table := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		m := arpLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mac := strings.ToUpper(strings.ReplaceAll(m[2], "-", ":"))
		if !macPattern.MatchString(mac) {
			continue
		}
		table[m[1]] = mac
	}
	return table
}
