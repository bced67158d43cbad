// Package monitoring holds the pipeline's diagnostic logger and the
// aggregated fault counters. Per-frame faults (blurry crops, unmatched
// classifications) are counted rather than logged so the frame loop
// cannot flood the log.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// PipelineCounters aggregates per-frame fault counts for one camera
// stream. All fields are updated with atomics so the HTTP stats
// handler can read them while the frame loop is running.
type PipelineCounters struct {
	FramesProcessed    atomic.Int64
	QualityRejections  atomic.Int64 // crops below the quality floor
	UnmatchedFrames    atomic.Int64 // classifier distance above threshold
	CrossingsDetected  atomic.Int64
	LedgerWrites       atomic.Int64
	OutOfWindowEvents  atomic.Int64 // crossings with no active period
	TemporalFaults     atomic.Int64 // exit timestamp before entry
	TracksEvicted      atomic.Int64
}

// Snapshot returns a plain-value copy suitable for JSON encoding.
func (c *PipelineCounters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FramesProcessed:   c.FramesProcessed.Load(),
		QualityRejections: c.QualityRejections.Load(),
		UnmatchedFrames:   c.UnmatchedFrames.Load(),
		CrossingsDetected: c.CrossingsDetected.Load(),
		LedgerWrites:      c.LedgerWrites.Load(),
		OutOfWindowEvents: c.OutOfWindowEvents.Load(),
		TemporalFaults:    c.TemporalFaults.Load(),
		TracksEvicted:     c.TracksEvicted.Load(),
	}
}

// CounterSnapshot is the exported view of PipelineCounters.
type CounterSnapshot struct {
	FramesProcessed   int64 `json:"frames_processed"`
	QualityRejections int64 `json:"quality_rejections"`
	UnmatchedFrames   int64 `json:"unmatched_frames"`
	CrossingsDetected int64 `json:"crossings_detected"`
	LedgerWrites      int64 `json:"ledger_writes"`
	OutOfWindowEvents int64 `json:"out_of_window_events"`
	TemporalFaults    int64 `json:"temporal_faults"`
	TracksEvicted     int64 `json:"tracks_evicted"`
}
