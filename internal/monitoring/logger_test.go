package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})

	Logf("hello %s", "world")
	if captured != "hello world" {
		t.Errorf("captured = %q, want %q", captured, "hello world")
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("dropped %d", 42)
}

func TestCountersSnapshot(t *testing.T) {
	var c PipelineCounters
	c.FramesProcessed.Add(10)
	c.QualityRejections.Add(3)
	c.TemporalFaults.Add(1)

	snap := c.Snapshot()
	if snap.FramesProcessed != 10 || snap.QualityRejections != 3 || snap.TemporalFaults != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
