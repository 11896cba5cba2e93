// Package sched triggers periodic measurement runs and device scans
// from cron expressions.
package sched

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// Config holds the cron specs. Empty specs disable the job.
type Config struct {
	Enabled     bool
	MeasureSpec string
	ScanSpec    string
}

// Service owns the cron runner. A measurement trigger that collides
// with an in-flight run is a logged no-op, mirroring the manual start
// path's conflict rule.
type Service struct {
	log     logx.Logger
	measure func(ctx context.Context) error
	scan    func(ctx context.Context)
	parser  cron.Parser

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	cancel context.CancelFunc
}

func New(cfg Config, measure func(ctx context.Context) error, scan func(ctx context.Context), log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		measure: measure,
		scan:    scan,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSpec checks a cron expression without scheduling it.
func (s *Service) ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := s.parser.Parse(spec)
	return err
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Debug("scheduler disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithParser(s.parser))

	if spec := s.cfg.MeasureSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() { s.runMeasure(runCtx) }); err != nil {
			cancel()
			return err
		}
	}
	if spec := s.cfg.ScanSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() { s.runScan(runCtx) }); err != nil {
			cancel()
			return err
		}
	}

	c.Start()
	s.c = c
	s.cancel = cancel
	s.log.Info("scheduler started",
		logx.String("measure_spec", s.cfg.MeasureSpec),
		logx.String("scan_spec", s.cfg.ScanSpec),
	)
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Apply restarts the runner when the schedule changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	same := cfg == s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if same {
		return nil
	}
	if running {
		s.Stop()
	}
	return s.Start(ctx)
}

func (s *Service) runMeasure(ctx context.Context) {
	defer s.recoverPanic("measure")
	if s.measure == nil {
		return
	}
	err := s.measure(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled measurement started")
	case errors.Is(err, orchestrator.ErrTestInProgress):
		s.log.Warn("scheduled measurement skipped: test already in progress")
	default:
		s.log.Error("scheduled measurement failed", logx.Err(err))
	}
}

func (s *Service) runScan(ctx context.Context) {
	defer s.recoverPanic("scan")
	if s.scan == nil {
		return
	}
	s.scan(ctx)
}

func (s *Service) recoverPanic(job string) {
	if r := recover(); r != nil {
		s.log.Error("panic in scheduled job",
			logx.String("job", job),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())),
		)
	}
}
