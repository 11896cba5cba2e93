// Package probe measures round-trip latency with the system ping
// utility, either as a bounded burst or as a cancellable background
// sampling loop.
package probe

import (
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/c4g7-dev/netwatch/internal/measure"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// timePattern matches the per-reply RTT in ping output on both the
// BSD/GNU ("time=1.23 ms") and Windows ("time<1ms") formats.
var timePattern = regexp.MustCompile(`(?i)time[=<](\d+(?:\.\d+)?)\s*ms`)

// Config tunes individual probes.
type Config struct {
	// PerProbeTimeout bounds one echo request. Default 1s.
	PerProbeTimeout time.Duration
}

// Prober issues echo probes and reduces replies to LatencyStats.
type Prober struct {
	cfg Config
	log logx.Logger

	// runPing is swappable for tests.
	runPing func(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error)
}

func New(cfg Config, log logx.Logger) *Prober {
	if cfg.PerProbeTimeout <= 0 {
		cfg.PerProbeTimeout = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Prober{cfg: cfg, log: log, runPing: execPing}
}

// Probe sends count echo requests to host and reduces the replies.
// A host that never answers is not an error: the stats come back with
// OK=false and 100% loss.
func (p *Prober) Probe(ctx context.Context, host string, count int) measure.LatencyStats {
	if count <= 0 {
		count = 5
	}
	out, err := p.runPing(ctx, host, count, p.cfg.PerProbeTimeout)
	if err != nil && len(out) == 0 {
		p.log.Debug("ping failed", logx.String("host", host), logx.Err(err))
		return measure.LatencyStats{OK: false, LossPct: 100}
	}

	samples := ParsePingTimes(out)
	return measure.StatsFromSamples(samples, count)
}

// ProbeOnce sends a single echo request and returns its RTT.
func (p *Prober) ProbeOnce(ctx context.Context, host string) (float64, bool) {
	st := p.Probe(ctx, host, 1)
	if !st.OK {
		return 0, false
	}
	return st.AvgMs, true
}

// ParsePingTimes extracts the per-reply RTT samples (ms, in order)
// from raw ping output.
func ParsePingTimes(out []byte) []float64 {
	var samples []float64
	for _, m := range timePattern.FindAllSubmatch(out, -1) {
		v, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		samples = append(samples, v)
	}
	return samples
}

// execPing shells out to the platform ping binary. The overall command
// is bounded by count probes plus slack so a dead host cannot wedge
// the caller.
func execPing(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error) {
	overall := time.Duration(count)*timeout + 5*time.Second
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		ms := strconv.FormatInt(timeout.Milliseconds(), 10)
		cmd = exec.CommandContext(ctx, "ping", "-n", strconv.Itoa(count), "-w", ms, host)
	} else {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		cmd = exec.CommandContext(ctx, "ping", "-c", strconv.Itoa(count), "-W", strconv.Itoa(secs), host)
	}
	// ping exits non-zero on loss; the partial output still matters.
	return cmd.Output()
}
