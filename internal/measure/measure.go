// Package measure holds the shared measurement data model: latency
// statistics, transfer results, bufferbloat grading and the aggregate
// test run record.
package measure

import (
	"math"
	"time"
)

// LatencyStats summarizes a sequence of round-trip samples.
//
// Jitter is the mean absolute difference between consecutive samples;
// a single sample has jitter 0. When no probe succeeded, OK is false
// and the millisecond fields are meaningless - callers must check OK
// instead of treating 0 as "no latency".
type LatencyStats struct {
	OK       bool    `json:"ok"`
	AvgMs    float64 `json:"avg_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	JitterMs float64 `json:"jitter_ms"`
	LossPct  float64 `json:"loss_pct"`
	Samples  int     `json:"samples"`
}

// StatsFromSamples reduces successful round-trip samples (ms) to
// LatencyStats. sent is the number of probes issued, used for loss.
func StatsFromSamples(samples []float64, sent int) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{OK: false, LossPct: 100}
	}

	sum := 0.0
	min := math.MaxFloat64
	max := 0.0
	for _, s := range samples {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	jitter := 0.0
	if len(samples) > 1 {
		diffSum := 0.0
		for i := 1; i < len(samples); i++ {
			diffSum += math.Abs(samples[i] - samples[i-1])
		}
		jitter = diffSum / float64(len(samples)-1)
	}

	loss := 0.0
	if sent > len(samples) {
		loss = float64(sent-len(samples)) / float64(sent) * 100
	}

	return LatencyStats{
		OK:       true,
		AvgMs:    sum / float64(len(samples)),
		MinMs:    min,
		MaxMs:    max,
		JitterMs: jitter,
		LossPct:  loss,
		Samples:  len(samples),
	}
}

// BandwidthResult is a single measured transfer.
type BandwidthResult struct {
	Bytes   int64   `json:"bytes"`
	Seconds float64 `json:"seconds"`
	Mbps    float64 `json:"mbps"`
}

// NewBandwidthResult derives Mbps from bytes and elapsed seconds.
// A zero elapsed time yields Mbps 0, not a division blow-up.
func NewBandwidthResult(bytes int64, seconds float64) BandwidthResult {
	r := BandwidthResult{Bytes: bytes, Seconds: seconds}
	if seconds > 0 {
		r.Mbps = float64(bytes) * 8 / (seconds * 1e6)
	}
	return r
}

// GradeUnknown is the grade when no latency data exists at all.
const GradeUnknown = "?"

// GradeBufferbloat grades the latency increase under load.
// Thresholds are closed upward: an increase of exactly 5ms is a B.
func GradeBufferbloat(idleMs, loadedMs float64) string {
	increase := loadedMs - idleMs
	switch {
	case increase < 5:
		return "A"
	case increase < 30:
		return "B"
	case increase < 60:
		return "C"
	case increase < 200:
		return "D"
	default:
		return "F"
	}
}

// GradeIdleOnly is the fallback grading when no loaded-ping data exists.
func GradeIdleOnly(idleMs float64) string {
	switch {
	case idleMs < 20:
		return "A"
	case idleMs < 50:
		return "B"
	case idleMs < 100:
		return "C"
	default:
		return "D"
	}
}

// TestRun is the aggregate record of one orchestrated test. Fields are
// filled in incrementally as phases complete; a run missing either
// throughput result is never persisted.
type TestRun struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  int64     `json:"device_id,omitempty"`

	IdleLatency    LatencyStats `json:"idle_latency"`
	GatewayLatency LatencyStats `json:"gateway_latency"`
	GatewayAddr    string       `json:"gateway_addr,omitempty"`

	Download *BandwidthResult `json:"download,omitempty"`
	Upload   *BandwidthResult `json:"upload,omitempty"`

	// LoadedPing pools samples taken during both transfer phases.
	// PingDuringDownload/Upload mirror its average; the split is not
	// measured separately.
	LoadedPing           LatencyStats `json:"loaded_ping"`
	PingDuringDownloadMs float64      `json:"ping_during_download_ms,omitempty"`
	PingDuringUploadMs   float64      `json:"ping_during_upload_ms,omitempty"`

	PingIdleMs float64 `json:"ping_idle_ms,omitempty"`
	JitterMs   float64 `json:"jitter_ms,omitempty"`

	BufferbloatGrade string  `json:"bufferbloat_grade"`
	ServerName       string  `json:"server_name,omitempty"`
	Duration         float64 `json:"test_duration_seconds"`
}

// Complete reports whether both throughput phases produced a result.
func (r *TestRun) Complete() bool {
	return r != nil && r.Download != nil && r.Upload != nil
}
