// Package orchestrator drives a full measurement run as a phased state
// machine: baseline latency, gateway latency, download and upload with
// background loaded-ping sampling, then bufferbloat grading and
// persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c4g7-dev/netwatch/internal/measure"
	"github.com/c4g7-dev/netwatch/internal/netinfo"
	"github.com/c4g7-dev/netwatch/internal/probe"
	"github.com/c4g7-dev/netwatch/internal/provider"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// ErrTestInProgress is returned when a start request arrives while a
// run is active. Requests are rejected, never queued.
var ErrTestInProgress = errors.New("test already in progress")

// Registry persists finished runs.
type Registry interface {
	ResolveOrRegister(ctx context.Context, ip string) (int64, error)
	RecordMeasurement(ctx context.Context, deviceID int64, run *measure.TestRun) error
}

// Prober issues latency probes; *probe.Prober satisfies it.
type Prober interface {
	probe.SingleProber
	Probe(ctx context.Context, host string, count int) measure.LatencyStats
}

// GatewayFinder resolves the LAN default gateway.
type GatewayFinder interface {
	DefaultGateway(ctx context.Context) string
}

// Config tunes a run.
type Config struct {
	// ReferenceTarget is the fixed external host for baseline latency.
	// Default 8.8.8.8.
	ReferenceTarget string
	// LatencyProbes for the baseline phase. Default 5.
	LatencyProbes int
	// GatewayProbes for the dedicated gateway phase. Default 3.
	GatewayProbes int
	// SamplerDelay postpones loaded-ping sampling past the provider's
	// server-selection sub-phase. Default 8s.
	SamplerDelay time.Duration
	// PhaseTimeout bounds each transfer phase. Default 60s.
	PhaseTimeout time.Duration
	// DeviceIP attributes the run to a device on persistence; default
	// is the local address.
	DeviceIP string
}

func (c *Config) applyDefaults() {
	if c.ReferenceTarget == "" {
		c.ReferenceTarget = "8.8.8.8"
	}
	if c.LatencyProbes <= 0 {
		c.LatencyProbes = 5
	}
	if c.GatewayProbes <= 0 {
		c.GatewayProbes = 3
	}
	if c.SamplerDelay <= 0 {
		c.SamplerDelay = 8 * time.Second
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = 60 * time.Second
	}
}

// Status is a snapshot of the in-flight (or last) run.
type Status struct {
	Running   bool      `json:"running"`
	Phase     Phase     `json:"phase"`
	Percent   int       `json:"percent"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Orchestrator owns the single-run-in-flight flag and the collaborators
// a run needs. The flag is the only orchestrator-wide mutable state.
type Orchestrator struct {
	cfg      Config
	prober   Prober
	gateways GatewayFinder
	prov     provider.Provider
	registry Registry
	log      logx.Logger

	running atomic.Bool

	mu     sync.Mutex
	status Status
}

func New(cfg Config, prober Prober, gateways GatewayFinder, prov provider.Provider, registry Registry, log logx.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:      cfg,
		prober:   prober,
		gateways: gateways,
		prov:     prov,
		registry: registry,
		log:      log,
		status:   Status{Phase: PhaseIdle},
	}
}

// Status returns a snapshot of the current run state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Start launches a run in the background. The conflict check is
// synchronous: a second start while a run is active fails immediately
// and leaves the in-flight run untouched.
func (o *Orchestrator) Start(ctx context.Context, sink Sink) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrTestInProgress
	}
	go o.run(ctx, sink)
	return nil
}

// Run executes a run synchronously. Same conflict semantics as Start.
func (o *Orchestrator) Run(ctx context.Context, sink Sink) (*measure.TestRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrTestInProgress
	}
	return o.run(ctx, sink)
}

func (o *Orchestrator) run(ctx context.Context, sink Sink) (_ *measure.TestRun, err error) {
	defer o.running.Store(false)

	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	start := time.Now()
	run := &measure.TestRun{
		Timestamp:        start.UTC(),
		BufferbloatGrade: measure.GradeUnknown,
	}
	o.setStatus(Status{Running: true, Phase: PhaseLatency, StartedAt: start})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("measurement run panicked: %v", r)
		}
		if err != nil {
			o.log.Error("measurement run failed", logx.Err(err))
			o.setStatus(Status{Phase: PhaseError})
			sink.Emit(Event{Kind: EventError, Message: err.Error()})
		}
	}()

	// Phase 1: gateway resolution and baseline latency.
	o.phase(sink, PhaseLatency, 5, "Testing local network latency...")
	gateway := o.gateways.DefaultGateway(ctx)
	if gateway == "" {
		o.log.Warn("no default gateway found; skipping baseline latency")
	} else {
		run.GatewayAddr = gateway
		run.IdleLatency = o.prober.Probe(ctx, o.cfg.ReferenceTarget, o.cfg.LatencyProbes)
		if run.IdleLatency.OK {
			run.PingIdleMs = run.IdleLatency.AvgMs
			run.JitterMs = run.IdleLatency.JitterMs
			o.log.Info("baseline latency",
				logx.String("target", o.cfg.ReferenceTarget),
				logx.Float64("avg_ms", run.IdleLatency.AvgMs),
			)
		}
	}
	o.progress(sink, PhaseLatency, 10)

	// Phase 2: a shorter probe against the gateway itself.
	o.phase(sink, PhaseGateway, 10, "Testing gateway latency...")
	if gateway != "" {
		run.GatewayLatency = o.prober.Probe(ctx, gateway, o.cfg.GatewayProbes)
		if run.GatewayLatency.OK {
			sink.Emit(Event{Kind: EventMetric, Metric: "gateway_ping", Value: run.GatewayLatency.AvgMs})
		} else {
			o.log.Warn("gateway did not answer probes", logx.String("gateway", gateway))
		}
	}
	o.progress(sink, PhaseGateway, 15)

	// Loaded pings must hit the same host as the idle baseline or the
	// loaded-minus-idle delta compares two different paths. The gateway
	// stands in only when the reference baseline was skipped, which is
	// exactly when grading falls back to the gateway baseline too.
	samplerTarget := o.cfg.ReferenceTarget
	if !run.IdleLatency.OK && gateway != "" {
		samplerTarget = gateway
	}

	// One sampler spans both transfer directions: server selection
	// happens once per run, so the delay is paid once. Samples pool into
	// one statistic mirrored into both per-direction result fields.
	samplerCtx, cancelSampler := context.WithCancel(ctx)
	defer cancelSampler()
	sampler := probe.StartSampler(samplerCtx, o.prober, samplerTarget, o.cfg.SamplerDelay, o.log.With(logx.String("svc", "sampler")))
	defer sampler.Stop()

	// Phase 3: download with background loaded-ping sampling.
	o.phase(sink, PhaseDownload, 20, "Testing download speed...")
	dl, err := o.transferPhase(ctx, sink, PhaseDownload, 20, 55, o.prov.RunDownload)
	if err != nil {
		return nil, err
	}
	run.Download = &dl
	sink.Emit(Event{Kind: EventMetric, Metric: "download", Value: dl.Mbps, Final: true})
	o.progress(sink, PhaseDownload, 55)

	// Phase 4: upload, same shape.
	o.phase(sink, PhaseUpload, 55, "Testing upload speed...")
	ul, err := o.transferPhase(ctx, sink, PhaseUpload, 55, 90, o.prov.RunUpload)
	if err != nil {
		return nil, err
	}
	run.Upload = &ul
	sink.Emit(Event{Kind: EventMetric, Metric: "upload", Value: ul.Mbps, Final: true})
	o.progress(sink, PhaseUpload, 90)

	pooled := sampler.Stop()
	run.LoadedPing = measure.StatsFromSamples(pooled, len(pooled))
	if run.LoadedPing.OK {
		run.PingDuringDownloadMs = run.LoadedPing.AvgMs
		run.PingDuringUploadMs = run.LoadedPing.AvgMs
		sink.Emit(Event{Kind: EventMetric, Metric: "ping_loaded", Value: run.LoadedPing.AvgMs})
		o.log.Info("loaded ping",
			logx.Int("samples", run.LoadedPing.Samples),
			logx.Float64("avg_ms", run.LoadedPing.AvgMs),
		)
	}

	// Phase 5: grading.
	o.phase(sink, PhaseGrading, 95, "Calculating results...")
	o.progress(sink, PhaseGrading, 95)
	run.BufferbloatGrade = o.grade(run)
	sink.Emit(Event{Kind: EventMetric, Metric: "grade", Value: run.BufferbloatGrade})

	run.ServerName = o.prov.ServerName()
	run.Duration = time.Since(start).Seconds()

	o.persist(ctx, run)

	o.progress(sink, PhaseGrading, 100)
	o.setStatus(Status{Phase: PhaseComplete, Percent: 100})
	sink.Emit(Event{Kind: EventComplete, Run: run})
	o.log.Info("measurement run complete",
		logx.Float64("download_mbps", run.Download.Mbps),
		logx.Float64("upload_mbps", run.Upload.Mbps),
		logx.String("grade", run.BufferbloatGrade),
		logx.Float64("seconds", run.Duration),
	)
	return run, nil
}

// transferPhase runs one provider direction and emits an approximated
// ease-out percent ramp since providers report no native progress.
func (o *Orchestrator) transferPhase(
	ctx context.Context,
	sink Sink,
	phase Phase,
	pctFrom, pctTo int,
	transfer func(context.Context) (measure.BandwidthResult, error),
) (measure.BandwidthResult, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()

	type outcome struct {
		res measure.BandwidthResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := transfer(phaseCtx)
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var out outcome
	rampStart := time.Now()
loop:
	for {
		select {
		case out = <-done:
			break loop
		case <-ticker.C:
			o.progress(sink, phase, rampPercent(pctFrom, pctTo, time.Since(rampStart)))
		case <-phaseCtx.Done():
			out = <-done
			break loop
		}
	}

	if out.err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("%s phase: %w", phase, out.err)
	}
	return out.res, nil
}

// rampPercent maps elapsed time onto [from, to) with an ease-out curve
// over a nominal 15s phase, never quite reaching the end; the measured
// completion emits the final value.
func rampPercent(from, to int, elapsed time.Duration) int {
	p := elapsed.Seconds() / 15
	if p > 1 {
		p = 1
	}
	ease := 1 - math.Pow(1-p, 2)
	pct := from + int(ease*float64(to-from))
	if pct >= to {
		pct = to - 1
	}
	return pct
}

// grade prefers the loaded-vs-idle comparison; with no loaded data it
// falls back to grading idle ping alone.
func (o *Orchestrator) grade(run *measure.TestRun) string {
	idle := run.PingIdleMs
	if idle == 0 && run.GatewayLatency.OK {
		idle = run.GatewayLatency.AvgMs
	}
	loaded := math.Max(run.PingDuringDownloadMs, run.PingDuringUploadMs)

	switch {
	case idle > 0 && loaded > 0:
		return measure.GradeBufferbloat(idle, loaded)
	case idle > 0:
		return measure.GradeIdleOnly(idle)
	default:
		return measure.GradeUnknown
	}
}

// persist hands the finished run to the registry. Incomplete runs are
// skipped entirely; persistence failure is logged, not fatal.
func (o *Orchestrator) persist(ctx context.Context, run *measure.TestRun) {
	if o.registry == nil || !run.Complete() {
		return
	}
	ip := o.cfg.DeviceIP
	if ip == "" {
		ip = netinfo.LocalIP()
	}
	deviceID, err := o.registry.ResolveOrRegister(ctx, ip)
	if err != nil {
		o.log.Error("device registration failed", logx.String("ip", ip), logx.Err(err))
		return
	}
	run.DeviceID = deviceID
	if err := o.registry.RecordMeasurement(ctx, deviceID, run); err != nil {
		o.log.Error("measurement persistence failed", logx.Err(err))
	}
}

func (o *Orchestrator) phase(sink Sink, p Phase, pct int, msg string) {
	o.setStatus(Status{Running: true, Phase: p, Percent: pct, StartedAt: o.Status().StartedAt})
	sink.Emit(Event{Kind: EventPhase, Phase: p, Message: msg})
}

func (o *Orchestrator) progress(sink Sink, p Phase, pct int) {
	o.mu.Lock()
	if pct > o.status.Percent {
		o.status.Percent = pct
	}
	o.mu.Unlock()
	sink.Emit(Event{Kind: EventProgress, Phase: p, Percent: pct})
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}
