package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"", false}, // empty disables the job
		{"0 * * * *", false},
		{"*/15 * * * *", false},
		{"30 */5 * * * *", false}, // optional seconds field
		{"@hourly", false},
		{"every hour", true},
		{"* * *", true},
	}
	for _, tt := range tests {
		err := s.ValidateSpec(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSpec(%q) = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, MeasureSpec: "not a spec"},
		func(context.Context) error { return nil }, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected spec parse error")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false, MeasureSpec: "bad spec ignored when disabled"}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start disabled: %v", err)
	}
	s.Stop()
}

func TestScheduledJobsFire(t *testing.T) {
	t.Parallel()
	var measured, scanned atomic.Int64
	s := New(Config{Enabled: true, MeasureSpec: "* * * * * *", ScanSpec: "* * * * * *"},
		func(context.Context) error { measured.Add(1); return nil },
		func(context.Context) { scanned.Add(1) },
		logx.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(5 * time.Second)
	for measured.Load() == 0 || scanned.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("jobs did not fire: measure=%d scan=%d", measured.Load(), scanned.Load())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestConflictIsSwallowed(t *testing.T) {
	t.Parallel()
	s := New(Config{},
		func(context.Context) error { return orchestrator.ErrTestInProgress },
		nil, logx.Nop())
	// Must neither panic nor surface the conflict.
	s.runMeasure(context.Background())
}

func TestPanicInJobIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func(context.Context) { panic("boom") }, logx.Nop())
	s.runScan(context.Background())
}

func TestApplyRestartsOnChange(t *testing.T) {
	t.Parallel()
	var fired atomic.Int64
	s := New(Config{Enabled: false},
		func(context.Context) error { fired.Add(1); return nil }, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Same config: nothing to do.
	if err := s.Apply(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("apply same: %v", err)
	}

	// Enabling with a per-second spec starts the runner.
	if err := s.Apply(context.Background(), Config{Enabled: true, MeasureSpec: "* * * * * *"}); err != nil {
		t.Fatalf("apply enable: %v", err)
	}
	defer s.Stop()

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job did not fire after Apply")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, MeasureSpec: "@hourly"},
		func(context.Context) error { return nil }, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()
}
