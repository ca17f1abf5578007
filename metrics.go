package refinery

import (
	"sort"
	"time"
)

// now is swapped out by tests that need deterministic record timestamps.
var now = time.Now

// Op identifies the kind of boundary event a Record describes.
type Op int

const (
	// OpInput: a model input was enqueued.
	OpInput Op = iota + 1
	// OpInputDropped: a model input outside the input filter was dropped.
	OpInputDropped
	// OpEvent: a system event was enqueued.
	OpEvent
	// OpEventDropped: a system event outside the event filter was dropped.
	OpEventDropped
	// OpEventDiscarded: a dequeued event had no enabled transition.
	OpEventDiscarded
	// OpFire: a transition fired.
	OpFire
	// OpOutput: a model output was delivered to the runner sink.
	OpOutput
	// OpCommand: a system command was delivered to the SUT callback.
	OpCommand
	// OpErrorReply: an unmatched input was answered with the error reply.
	OpErrorReply
	// OpRefineStart: an IOSTS left its initial state.
	OpRefineStart
	// OpRefineEnd: the active IOSTS returned to its initial state.
	OpRefineEnd
)

func (o Op) String() string {
	switch o {
	case OpInput:
		return "input"
	case OpInputDropped:
		return "input-dropped"
	case OpEvent:
		return "event"
	case OpEventDropped:
		return "event-dropped"
	case OpEventDiscarded:
		return "event-discarded"
	case OpFire:
		return "fire"
	case OpOutput:
		return "output"
	case OpCommand:
		return "command"
	case OpErrorReply:
		return "error-reply"
	case OpRefineStart:
		return "refine-start"
	case OpRefineEnd:
		return "refine-end"
	default:
		return "unknown"
	}
}

// Record is one timestamped boundary event emitted by the scheduler's
// observer hook. System is set for firings and refinement start/end.
type Record struct {
	Time   time.Time
	Op     Op
	Kind   Kind
	System string
}

// Metrics contains aggregated refinement statistics for one session.
type Metrics struct {
	Inputs          int                   `json:"inputs"`
	InputsDropped   int                   `json:"inputsDropped"`
	Events          int                   `json:"events"`
	EventsDropped   int                   `json:"eventsDropped"`
	EventsDiscarded int                   `json:"eventsDiscarded"`
	Outputs         int                   `json:"outputs"`
	Commands        int                   `json:"commands"`
	ErrorReplies    int                   `json:"errorReplies"`
	Firings         int                   `json:"firings"`
	Refinements     int                   `json:"refinements"`
	Duration        DurationMetrics       `json:"refinementDurations"`
	PerKind         map[Kind]*KindMetrics `json:"perKind"`
}

// KindMetrics counts boundary traffic for one action kind.
type KindMetrics struct {
	Inputs   int `json:"inputs"`
	Events   int `json:"events"`
	Outputs  int `json:"outputs"`
	Commands int `json:"commands"`
}

// DurationMetrics contains latency statistics over closed refinements.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// ComputeMetrics aggregates a record stream. Refinement durations pair each
// refine-start with the next refine-end of the same system; atomicity means
// at most one refinement is open at a time, so an unmatched start (a
// session stopped mid-refinement) is simply not counted.
func ComputeMetrics(records []Record) Metrics {
	m := Metrics{PerKind: make(map[Kind]*KindMetrics)}
	open := make(map[string]time.Time)
	var durations []time.Duration

	kind := func(k Kind) *KindMetrics {
		km, ok := m.PerKind[k]
		if !ok {
			km = &KindMetrics{}
			m.PerKind[k] = km
		}
		return km
	}

	for _, r := range records {
		switch r.Op {
		case OpInput:
			m.Inputs++
			kind(r.Kind).Inputs++
		case OpInputDropped:
			m.InputsDropped++
		case OpEvent:
			m.Events++
			kind(r.Kind).Events++
		case OpEventDropped:
			m.EventsDropped++
		case OpEventDiscarded:
			m.EventsDiscarded++
		case OpFire:
			m.Firings++
		case OpOutput:
			m.Outputs++
			kind(r.Kind).Outputs++
		case OpCommand:
			m.Commands++
			kind(r.Kind).Commands++
		case OpErrorReply:
			m.ErrorReplies++
		case OpRefineStart:
			open[r.System] = r.Time
		case OpRefineEnd:
			if start, ok := open[r.System]; ok {
				durations = append(durations, r.Time.Sub(start))
				delete(open, r.System)
				m.Refinements++
			}
		}
	}

	m.Duration = ComputeDurationMetrics(durations)
	return m
}

// ComputePercentile calculates the percentile value from a sorted slice of
// durations: the element at index floor((len(sorted)-1)*p), without
// interpolation. p is in [0, 1].
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// ComputeDurationMetrics calculates duration statistics from a sample.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P95: ComputePercentile(sorted, 0.95),
	}
}
