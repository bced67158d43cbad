// Package track maintains one debounced identity track per recognised
// label. Tracks smooth noisy per-frame classifications with a
// constant-velocity Kalman filter, accumulate a bounded window of
// match outcomes for verification, and age out after inactivity.
package track

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-sensing/presence.report/internal/boundary"
	"github.com/campus-sensing/presence.report/internal/config"
	"github.com/campus-sensing/presence.report/internal/vision"
)

const maxHistoryLen = 64

// Outcome records one classification attempt against a track.
type Outcome struct {
	Matched   bool
	Distance  float64
	Timestamp time.Time
}

// IdentityTrack is the per-label track state. Fields are owned by the
// Tracker; callers read them through snapshot accessors.
type IdentityTrack struct {
	ID        string
	Identity  string
	FirstSeen time.Time
	LastSeen  time.Time

	kf       *kalman
	lastTick time.Time
	outcomes []Outcome
	history  []vision.Point
	crossing *boundary.Machine
}

// TrackView is a deep-copied read-only snapshot of a track.
type TrackView struct {
	ID          string         `json:"id"`
	Identity    string         `json:"identity"`
	Verified    bool           `json:"verified"`
	Reliability float64        `json:"reliability"`
	Position    vision.Point   `json:"position"`
	State       boundary.State `json:"state"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	History     []vision.Point `json:"history,omitempty"`
}

// Tracker owns all live identity tracks for one camera stream.
type Tracker struct {
	mu     sync.RWMutex
	cfg    *config.TuningConfig
	tracks map[string]*IdentityTrack
}

func NewTracker(cfg *config.TuningConfig) *Tracker {
	return &Tracker{cfg: cfg, tracks: make(map[string]*IdentityTrack)}
}

// Observe feeds one detection into the tracker. A track is created on
// the first confident sighting of a label. Unconfident sightings of an
// existing track are recorded as misses: they advance the filter's
// prediction and age the track, but never move it by the measurement.
// Returns the track, or nil when the detection did not map to one.
func (t *Tracker) Observe(d vision.Detection, now time.Time) *IdentityTrack {
	matched := d.Distance < t.cfg.GetMatchThreshold()

	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracks[d.Label]
	if !ok {
		if !matched {
			return nil
		}
		c := d.Center
		tr = &IdentityTrack{
			ID:        "trk_" + uuid.NewString(),
			Identity:  d.Label,
			FirstSeen: now,
			LastSeen:  now,
			kf: newKalman(c.X, c.Y,
				t.cfg.GetProcessNoisePos(),
				t.cfg.GetProcessNoiseVel(),
				t.cfg.GetMeasurementNoise()),
			lastTick: now,
			crossing: boundary.NewMachine(
				t.cfg.GetBoundaryX(),
				t.cfg.GetHysteresisHalfWidth(),
				true,
				c.X),
		}
		tr.outcomes = append(tr.outcomes, Outcome{Matched: true, Distance: d.Distance, Timestamp: now})
		tr.history = append(tr.history, vision.Point{X: c.X, Y: c.Y})
		t.tracks[d.Label] = tr
		return tr
	}

	dt := now.Sub(tr.lastTick).Seconds()
	if maxDt := t.cfg.GetMaxPredictDt(); dt > maxDt {
		dt = maxDt
	}
	tr.kf.Predict(dt)
	tr.lastTick = now

	if matched {
		tr.kf.Update(d.Center.X, d.Center.Y)
		tr.LastSeen = now
	}

	tr.outcomes = append(tr.outcomes, Outcome{Matched: matched, Distance: d.Distance, Timestamp: now})
	if w := t.cfg.GetVerificationWindow(); len(tr.outcomes) > w {
		tr.outcomes = tr.outcomes[len(tr.outcomes)-w:]
	}

	tr.history = append(tr.history, vision.Point{X: tr.kf.X, Y: tr.kf.Y})
	if len(tr.history) > maxHistoryLen {
		tr.history = tr.history[len(tr.history)-maxHistoryLen:]
	}

	return tr
}

// CoastMissing advances every track whose label is absent from seen,
// covering frames where a known face produced no detection at all. The
// tracks age toward eviction.
func (t *Tracker) CoastMissing(seen map[string]bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for label, tr := range t.tracks {
		if seen[label] {
			continue
		}
		t.coastLocked(tr, now)
	}
}

// coastLocked advances a track's prediction without a measurement.
// Caller holds t.mu.
func (t *Tracker) coastLocked(tr *IdentityTrack, now time.Time) {
	dt := now.Sub(tr.lastTick).Seconds()
	if maxDt := t.cfg.GetMaxPredictDt(); dt > maxDt {
		dt = maxDt
	}
	tr.kf.Predict(dt)
	tr.lastTick = now
	tr.history = append(tr.history, vision.Point{X: tr.kf.X, Y: tr.kf.Y})
	if len(tr.history) > maxHistoryLen {
		tr.history = tr.history[len(tr.history)-maxHistoryLen:]
	}
}

// StepBoundary advances a track's crossing machine with its current
// smoothed position and returns the emitted event, if any. It holds
// the tracker lock so snapshot readers never observe a half-stepped
// machine.
func (t *Tracker) StepBoundary(tr *IdentityTrack, now time.Time) *boundary.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tr.crossing.Step(tr.Identity, tr.kf.X, now)
}

// Position returns the current smoothed position of a track.
func (tr *IdentityTrack) Position() vision.Point {
	return vision.Point{X: tr.kf.X, Y: tr.kf.Y}
}

// verified reports whether the outcome window passes the majority rule.
// A full window needs the configured majority; a partially filled
// window needs the smaller partial majority over the most recent
// partial-window outcomes.
func (t *Tracker) verified(tr *IdentityTrack) bool {
	window := t.cfg.GetVerificationWindow()
	majority := t.cfg.GetVerificationMajority()
	if len(tr.outcomes) >= window {
		return countMatches(tr.outcomes[len(tr.outcomes)-window:]) >= majority
	}
	partial := t.cfg.GetPartialWindow()
	if len(tr.outcomes) >= partial {
		return countMatches(tr.outcomes[len(tr.outcomes)-partial:]) >= t.cfg.GetPartialMajority()
	}
	return false
}

// Verified reports whether the track currently passes the majority rule.
func (t *Tracker) Verified(tr *IdentityTrack) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verified(tr)
}

// reliability blends the window's match ratio with an inverse average
// distance score. Advisory only: attendance decisions use verified.
func (t *Tracker) reliability(tr *IdentityTrack) float64 {
	if len(tr.outcomes) == 0 {
		return 0
	}
	var matches int
	var distSum float64
	for _, o := range tr.outcomes {
		if o.Matched {
			matches++
		}
		distSum += o.Distance
	}
	matchRatio := float64(matches) / float64(len(tr.outcomes))
	avgDist := distSum / float64(len(tr.outcomes))
	invDist := 1 - avgDist/t.cfg.GetMatchThreshold()
	if invDist < 0 {
		invDist = 0
	}
	score := 0.6*matchRatio + 0.4*invDist
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// EvictStale removes tracks unseen for longer than the eviction
// timeout and returns how many were dropped.
func (t *Tracker) EvictStale(now time.Time) int {
	timeout := t.cfg.GetTrackEvictionTimeout()

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted int
	for label, tr := range t.tracks {
		if now.Sub(tr.LastSeen) > timeout {
			delete(t.tracks, label)
			evicted++
		}
	}
	return evicted
}

// Get returns the live track for a label, or nil.
func (t *Tracker) Get(label string) *IdentityTrack {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracks[label]
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracks)
}

// Snapshot returns deep-copied views of every live track, history
// included, safe to hold after the tracker moves on.
func (t *Tracker) Snapshot() []TrackView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	views := make([]TrackView, 0, len(t.tracks))
	for _, tr := range t.tracks {
		views = append(views, t.snapshotLocked(tr, true))
	}
	return views
}

// View returns a deep-copied view of one track.
func (t *Tracker) View(tr *IdentityTrack) TrackView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(tr, false)
}

func (t *Tracker) snapshotLocked(tr *IdentityTrack, withHistory bool) TrackView {
	v := TrackView{
		ID:          tr.ID,
		Identity:    tr.Identity,
		Verified:    t.verified(tr),
		Reliability: t.reliability(tr),
		Position:    vision.Point{X: tr.kf.X, Y: tr.kf.Y},
		State:       tr.crossing.State(),
		FirstSeen:   tr.FirstSeen,
		LastSeen:    tr.LastSeen,
	}
	if withHistory {
		v.History = make([]vision.Point, len(tr.history))
		copy(v.History, tr.history)
	}
	return v
}

func countMatches(w []Outcome) int {
	var n int
	for _, o := range w {
		if o.Matched {
			n++
		}
	}
	return n
}
