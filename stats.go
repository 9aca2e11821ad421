package convoy

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Stats is a snapshot of a pool's completed-transfer latencies.
type Stats struct {
	Completed int
	Failed    int

	Min  time.Duration
	Mean time.Duration
	Max  time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
}

// statsRecorder aggregates per-transfer durations into a histogram.
// Values are recorded in microseconds between 1µs and 60s.
type statsRecorder struct {
	hist      *hdrhistogram.Histogram
	completed int
	failed    int
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		hist: hdrhistogram.New(1, 60_000_000, 3),
	}
}

func (s *statsRecorder) record(t *Transfer) {
	s.completed++
	if t.IsError() {
		s.failed++
	}

	us := t.TotalTime().Microseconds()
	if us < s.hist.LowestTrackableValue() {
		us = s.hist.LowestTrackableValue()
	}
	if us > s.hist.HighestTrackableValue() {
		us = s.hist.HighestTrackableValue()
	}
	// RecordValue only fails outside the trackable range, which the
	// clamp above rules out.
	_ = s.hist.RecordValue(us)
}

func (s *statsRecorder) snapshot() Stats {
	if s.completed == 0 {
		return Stats{}
	}
	return Stats{
		Completed: s.completed,
		Failed:    s.failed,
		Min:       time.Duration(s.hist.Min()) * time.Microsecond,
		Mean:      time.Duration(s.hist.Mean()) * time.Microsecond,
		Max:       time.Duration(s.hist.Max()) * time.Microsecond,
		P50:       time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		P95:       time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:       time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond,
	}
}
