package orchestrator

import "github.com/c4g7-dev/netwatch/internal/measure"

// Phase identifies a step of the run state machine.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLatency  Phase = "latency"
	PhaseGateway  Phase = "gateway"
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
	PhaseGrading  Phase = "calculating"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// EventKind discriminates progress stream entries.
type EventKind string

const (
	EventPhase    EventKind = "phase"
	EventProgress EventKind = "progress"
	EventMetric   EventKind = "metric"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is one entry of a run's ordered progress stream.
//
// Percent is non-decreasing within a phase. Metric events carry a
// named value; Final marks the measured value that supersedes any
// approximated ramp for that metric.
type Event struct {
	Kind    EventKind        `json:"event"`
	Phase   Phase            `json:"phase,omitempty"`
	Message string           `json:"message,omitempty"`
	Percent int              `json:"percent,omitempty"`
	Metric  string           `json:"metric,omitempty"`
	Value   any              `json:"value,omitempty"`
	Final   bool             `json:"final,omitempty"`
	Run     *measure.TestRun `json:"results,omitempty"`
}

// Sink consumes a run's events in emission order. A sink must not
// block for long; slow consumers are expected to buffer or drop on
// their own side.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// multiSink fans one stream out to several sinks, preserving order
// per sink.
type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// MultiSink combines sinks; nil entries are skipped.
func MultiSink(sinks ...Sink) Sink { return multiSink(sinks) }
