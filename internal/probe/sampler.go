package probe

import (
	"context"
	"sync"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// DefaultCadence is the interval between continuous samples.
const DefaultCadence = 300 * time.Millisecond

// joinGrace bounds how long Stop waits for an in-flight probe beyond
// one cadence interval.
const joinGrace = 10 * time.Second

// SingleProber is the one-shot probe the sampling loop needs.
type SingleProber interface {
	ProbeOnce(ctx context.Context, host string) (float64, bool)
}

// Sampler runs a background loop of single-shot probes against one
// target, accumulating successful samples until stopped. The stop
// signal is observed within one cadence interval; Stop drains any
// in-flight probe before returning the samples.
type Sampler struct {
	prober  SingleProber
	target  string
	delay   time.Duration
	cadence time.Duration
	log     logx.Logger

	mu      sync.Mutex
	samples []float64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartSampler launches the loop. delay postpones the first probe
// (the orchestrator uses this to skip a provider's server-selection
// sub-phase); a stop during the delay produces zero samples.
func StartSampler(ctx context.Context, prober SingleProber, target string, delay time.Duration, log logx.Logger) *Sampler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sampler{
		prober:  prober,
		target:  target,
		delay:   delay,
		cadence: DefaultCadence,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop(ctx)
	return s
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	if s.delay > 0 {
		s.log.Debug("loaded-ping sampler waiting for transfer phase", logx.Duration("delay", s.delay))
		if !s.sleep(ctx, s.delay) {
			return
		}
	}

	s.log.Info("loaded-ping sampling started", logx.String("target", s.target))
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		if ms, ok := s.prober.ProbeOnce(ctx, s.target); ok {
			s.mu.Lock()
			s.samples = append(s.samples, ms)
			s.mu.Unlock()
			count++
			if count <= 5 {
				s.log.Debug("loaded ping sample", logx.Int("n", count), logx.Float64("ms", ms))
			}
		}

		if !s.sleep(ctx, s.cadence) {
			return
		}
	}
}

// sleep waits d unless the sampler is stopped or the context ends.
func (s *Sampler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

// Stop signals the loop, joins it with a bounded wait and returns the
// accumulated samples. Safe to call more than once.
func (s *Sampler) Stop() []float64 {
	s.stopOnce.Do(func() { close(s.stop) })

	// The loop observes stop within one cadence; an in-flight probe is
	// additionally bounded by the prober's own timeout.
	select {
	case <-s.done:
	case <-time.After(s.cadence + joinGrace):
		s.log.Warn("sampler did not drain in time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}

// Samples returns a snapshot of what has been collected so far.
func (s *Sampler) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}
