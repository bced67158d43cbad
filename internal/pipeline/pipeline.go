// Package pipeline runs the frame loop: it pulls classified frames
// from a vision source, debounces identities through the tracker,
// feeds verified positions to the boundary machines and applies
// confirmed crossings to the attendance ledger. A separate persistence
// loop flushes dirty ledger rows on an interval.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/campus-sensing/presence.report/internal/boundary"
	"github.com/campus-sensing/presence.report/internal/config"
	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/ledger"
	"github.com/campus-sensing/presence.report/internal/monitoring"
	"github.com/campus-sensing/presence.report/internal/schedule"
	"github.com/campus-sensing/presence.report/internal/timeutil"
	"github.com/campus-sensing/presence.report/internal/track"
	"github.com/campus-sensing/presence.report/internal/vision"
)

// Pipeline owns the per-frame decision path. Run and RunPersister are
// the two long-lived goroutines; everything else is called from them.
type Pipeline struct {
	cfg      *config.TuningConfig
	src      vision.Source
	tracker  *track.Tracker
	resolver *schedule.Resolver
	ledger   *ledger.Ledger
	clock    timeutil.Clock
	counters *monitoring.PipelineCounters

	degradedLogged bool
	active         *db.Period
	activeSeen     time.Time
}

func New(cfg *config.TuningConfig, src vision.Source, tracker *track.Tracker,
	resolver *schedule.Resolver, led *ledger.Ledger, clock timeutil.Clock,
	counters *monitoring.PipelineCounters) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		tracker:  tracker,
		resolver: resolver,
		ledger:   led,
		clock:    clock,
		counters: counters,
	}
}

// Run consumes the source until it ends or ctx is cancelled. Source
// exhaustion is a clean stop; any other source error is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		frame, err := p.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("pipeline: source exhausted, stopping frame loop")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.processFrame(frame)
	}
}

// processFrame applies one frame's detections to the tracker, boundary
// machines and ledger. Frame timestamps drive all decisions so replayed
// footage behaves identically to live capture.
func (p *Pipeline) processFrame(frame vision.Frame) {
	p.counters.FramesProcessed.Add(1)
	now := frame.Timestamp
	p.rolloverPeriod(now)

	if p.src.Degraded() && !p.degradedLogged {
		monitoring.Logf("pipeline: running degraded, no recognizer model; frames will not reach the ledger")
		p.degradedLogged = true
	}

	seen := make(map[string]bool, len(frame.Detections))
	for _, d := range frame.Detections {
		if d.Quality < p.cfg.GetQualityFloor() {
			p.counters.QualityRejections.Add(1)
			continue
		}
		if d.Label == "" {
			p.counters.UnmatchedFrames.Add(1)
			continue
		}
		if d.Distance >= p.cfg.GetMatchThreshold() {
			p.counters.UnmatchedFrames.Add(1)
		}

		tr := p.tracker.Observe(d, now)
		if tr == nil {
			continue
		}
		seen[d.Label] = true

		if !p.tracker.Verified(tr) {
			continue
		}
		if ev := p.tracker.StepBoundary(tr, now); ev != nil {
			p.applyCrossing(ev)
		}
	}

	p.tracker.CoastMissing(seen, now)

	if evicted := p.tracker.EvictStale(now); evicted > 0 {
		p.counters.TracksEvicted.Add(int64(evicted))
		monitoring.Logf("pipeline: evicted %d stale track(s)", evicted)
	}
}

// rolloverPeriod closes open visits when the in-session period changes
// between frames, so students who stay past the bell stop accruing
// time into the next period.
func (p *Pipeline) rolloverPeriod(now time.Time) {
	cur := p.resolver.CurrentPeriod(now)
	if p.active != nil && (cur == nil || cur.ID != p.active.ID) {
		if end, ok := periodEnd(p.active, p.activeSeen); ok {
			p.ledger.ClosePeriod(p.active, end)
			monitoring.Logf("pipeline: period %q over, open visits closed at %s",
				p.active.Name, end.Format(time.TimeOnly))
		}
	}
	if cur == nil {
		p.active = nil
		return
	}
	p.active = cur
	p.activeSeen = now
}

// periodEnd resolves a period's nominal end instant on the day the
// period was last seen in session.
func periodEnd(p *db.Period, seen time.Time) (time.Time, bool) {
	endMin, err := p.EndMinute()
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := seen.Date()
	return time.Date(y, m, d, 0, endMin, 0, 0, seen.Location()), true
}

// applyCrossing routes one confirmed crossing through the schedule
// resolver into the ledger. Crossings outside any attendance window
// are counted and dropped.
func (p *Pipeline) applyCrossing(ev *boundary.Event) {
	p.counters.CrossingsDetected.Add(1)

	period := p.resolver.CurrentPeriod(ev.Timestamp)
	if period == nil {
		p.counters.OutOfWindowEvents.Add(1)
		monitoring.Logf("pipeline: %s crossing for %s at %s outside any attendance window, ignored",
			ev.Type, ev.Identity, ev.Timestamp.Format(time.TimeOnly))
		return
	}

	switch ev.Type {
	case boundary.Entry:
		if !p.ledger.ApplyEntry(ev.Identity, period, ev.Timestamp) {
			p.counters.OutOfWindowEvents.Add(1)
			return
		}
		monitoring.Logf("pipeline: entry %s period %q (%s)", ev.Identity, period.Name,
			ev.Timestamp.Format(time.TimeOnly))
	case boundary.Exit:
		applied, fault := p.ledger.ApplyExit(ev.Identity, period, ev.Timestamp)
		if !applied {
			p.counters.OutOfWindowEvents.Add(1)
			return
		}
		if fault {
			p.counters.TemporalFaults.Add(1)
		}
		monitoring.Logf("pipeline: exit %s period %q (%s)", ev.Identity, period.Name,
			ev.Timestamp.Format(time.TimeOnly))
	}
}

// RunPersister flushes dirty ledger rows on the configured interval
// and performs a final flush on shutdown.
func (p *Pipeline) RunPersister(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.GetPersistInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-ticker.C():
			p.flush()
		}
	}
}

func (p *Pipeline) flush() {
	if !p.ledger.Dirty() {
		return
	}
	n, err := p.ledger.Flush()
	if err != nil {
		monitoring.Logf("pipeline: ledger flush failed: %v", err)
	}
	if n > 0 {
		p.counters.LedgerWrites.Add(int64(n))
	}
}
