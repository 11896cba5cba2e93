package probe

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

func TestParsePingTimes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		out  string
		want []float64
	}{
		{
			name: "gnu format",
			out: "64 bytes from 192.168.1.1: icmp_seq=1 ttl=64 time=1.23 ms\n" +
				"64 bytes from 192.168.1.1: icmp_seq=2 ttl=64 time=0.98 ms\n",
			want: []float64{1.23, 0.98},
		},
		{
			name: "windows sub-millisecond format",
			out:  "Reply from 192.168.1.1: bytes=32 time<1ms TTL=64\r\n",
			want: []float64{1},
		},
		{
			name: "no replies",
			out:  "Request timeout for icmp_seq 0\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParsePingTimes([]byte(tt.out))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Fatalf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestProbeReducesOutput(t *testing.T) {
	t.Parallel()
	p := New(Config{}, logx.Nop())
	p.runPing = func(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error) {
		return []byte("time=2.0 ms\ntime=4.0 ms\ntime=3.0 ms\n"), nil
	}

	st := p.Probe(context.Background(), "192.168.1.1", 3)
	if !st.OK {
		t.Fatal("expected OK")
	}
	if st.AvgMs != 3.0 {
		t.Fatalf("AvgMs = %v, want 3.0", st.AvgMs)
	}
	if st.Samples != 3 || st.LossPct != 0 {
		t.Fatalf("samples/loss = %d/%v, want 3/0", st.Samples, st.LossPct)
	}
}

func TestProbeDeadHost(t *testing.T) {
	t.Parallel()
	p := New(Config{}, logx.Nop())
	p.runPing = func(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}

	st := p.Probe(context.Background(), "192.168.1.250", 3)
	if st.OK {
		t.Fatal("expected OK=false for a dead host")
	}
	if st.LossPct != 100 {
		t.Fatalf("LossPct = %v, want 100", st.LossPct)
	}
}

// Partial output with a non-zero exit still yields the surviving samples.
func TestProbePartialLoss(t *testing.T) {
	t.Parallel()
	p := New(Config{}, logx.Nop())
	p.runPing = func(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error) {
		return []byte("time=5.0 ms\n"), errors.New("exit status 1")
	}

	st := p.Probe(context.Background(), "192.168.1.7", 4)
	if !st.OK {
		t.Fatal("expected OK with partial replies")
	}
	if st.LossPct != 75 {
		t.Fatalf("LossPct = %v, want 75", st.LossPct)
	}
}

func TestProbeOnce(t *testing.T) {
	t.Parallel()
	p := New(Config{}, logx.Nop())
	p.runPing = func(ctx context.Context, host string, count int, timeout time.Duration) ([]byte, error) {
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
		return []byte("time=7.5 ms\n"), nil
	}

	ms, ok := p.ProbeOnce(context.Background(), "10.0.0.1")
	if !ok || ms != 7.5 {
		t.Fatalf("got %v/%v, want 7.5/true", ms, ok)
	}
}

type fakeProber struct {
	calls atomic.Int64
	rtt   float64
}

func (f *fakeProber) ProbeOnce(ctx context.Context, host string) (float64, bool) {
	f.calls.Add(1)
	return f.rtt, true
}

func TestSamplerCollectsUntilStopped(t *testing.T) {
	t.Parallel()
	fp := &fakeProber{rtt: 12.5}
	s := StartSampler(context.Background(), fp, "8.8.8.8", 0, logx.Nop())

	time.Sleep(DefaultCadence * 2)
	samples := s.Stop()
	if len(samples) == 0 {
		t.Fatal("expected at least one sample")
	}
	for _, v := range samples {
		if v != 12.5 {
			t.Fatalf("sample = %v, want 12.5", v)
		}
	}
}

// Stopping during the initial delay must produce zero samples and no
// probe calls.
func TestSamplerStopDuringDelay(t *testing.T) {
	t.Parallel()
	fp := &fakeProber{rtt: 1}
	s := StartSampler(context.Background(), fp, "8.8.8.8", time.Hour, logx.Nop())

	samples := s.Stop()
	if len(samples) != 0 {
		t.Fatalf("got %d samples, want 0", len(samples))
	}
	if fp.calls.Load() != 0 {
		t.Fatalf("prober called %d times during delay", fp.calls.Load())
	}
}

func TestSamplerStopIdempotent(t *testing.T) {
	t.Parallel()
	fp := &fakeProber{rtt: 1}
	s := StartSampler(context.Background(), fp, "8.8.8.8", time.Hour, logx.Nop())
	_ = s.Stop()
	_ = s.Stop()
}

func TestSamplerContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	fp := &fakeProber{rtt: 1}
	s := StartSampler(ctx, fp, "8.8.8.8", 0, logx.Nop())
	cancel()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}
