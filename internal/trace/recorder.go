package trace

import (
	"sync"

	"refinery"
)

// Recorder aggregates scheduler boundary records for the final metrics
// report. Records are handed off on a buffered channel so the observer
// hook never blocks the dispatch loop; when the buffer is full the record
// is dropped.
type Recorder struct {
	records []refinery.Record
	ch      chan refinery.Record
	done    chan struct{}
	mu      sync.Mutex
}

// NewRecorder creates a Recorder and starts its collection goroutine.
func NewRecorder() *Recorder {
	r := &Recorder{
		records: make([]refinery.Record, 0),
		ch:      make(chan refinery.Record, 1000),
		done:    make(chan struct{}),
	}
	go r.collect()
	return r
}

func (r *Recorder) collect() {
	for rec := range r.ch {
		r.mu.Lock()
		r.records = append(r.records, rec)
		r.mu.Unlock()
	}
	close(r.done)
}

// Observe enqueues a record. Safe for concurrent use; satisfies the
// scheduler's observer hook.
func (r *Recorder) Observe(rec refinery.Record) {
	select {
	case r.ch <- rec:
	default:
	}
}

// Close stops the recorder and waits for buffered records to land.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

// Records returns a copy of the collected records.
func (r *Recorder) Records() []refinery.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]refinery.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Metrics computes the aggregated statistics over everything recorded.
func (r *Recorder) Metrics() refinery.Metrics {
	return refinery.ComputeMetrics(r.Records())
}
