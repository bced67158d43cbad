// Package schedule answers "what period is active now" against the
// configured period table. The table is read-mostly, so the resolver
// keeps a short-TTL cache that admin mutations invalidate.
package schedule

import (
	"sync"
	"time"

	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/monitoring"
	"github.com/campus-sensing/presence.report/internal/timeutil"
)

// Store is the slice of the period store the resolver needs.
type Store interface {
	ListPeriods(activeOnly bool) ([]db.Period, error)
}

// Resolver resolves wall-clock instants to schedule periods.
type Resolver struct {
	store Store
	clock timeutil.Clock
	grace time.Duration
	ttl   time.Duration

	mu        sync.RWMutex
	cached    []db.Period
	fetchedAt time.Time
	haveCache bool
}

// New creates a Resolver. grace is the symmetric attendance-window
// tolerance; ttl bounds cache staleness between admin invalidations.
func New(store Store, clock timeutil.Clock, grace, ttl time.Duration) *Resolver {
	return &Resolver{store: store, clock: clock, grace: grace, ttl: ttl}
}

// Invalidate drops the cached period table. Called by the admin CRUD
// surface after any period mutation.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haveCache = false
}

// periods returns the cached table, refreshing when stale. A store
// failure is a configuration fault: the last good table (or an empty
// one) is served and a warning logged.
func (r *Resolver) periods() []db.Period {
	r.mu.RLock()
	if r.haveCache && r.clock.Since(r.fetchedAt) < r.ttl {
		cached := r.cached
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveCache && r.clock.Since(r.fetchedAt) < r.ttl {
		return r.cached
	}

	fresh, err := r.store.ListPeriods(true)
	if err != nil {
		monitoring.Logf("schedule: period refresh failed, serving stale table: %v", err)
		r.fetchedAt = r.clock.Now() // back off before retrying
		r.haveCache = true
		return r.cached
	}
	r.cached = fresh
	r.fetchedAt = r.clock.Now()
	r.haveCache = true
	return r.cached
}

// secondOfDay returns now as seconds since local midnight.
func secondOfDay(now time.Time) int {
	return now.Hour()*3600 + now.Minute()*60 + now.Second()
}

// WithinAttendanceWindow reports whether now falls inside the period's
// grace-extended window [start-grace, end+grace].
func (r *Resolver) WithinAttendanceWindow(p *db.Period, now time.Time) bool {
	startMin, err := p.StartMinute()
	if err != nil {
		return false
	}
	endMin, err := p.EndMinute()
	if err != nil {
		return false
	}
	graceSecs := int(r.grace.Seconds())
	nowSecs := secondOfDay(now)
	return nowSecs >= startMin*60-graceSecs && nowSecs <= endMin*60+graceSecs
}

// CurrentPeriod returns the period whose attendance window contains
// now, or nil. When adjacent grace windows overlap, a period whose
// nominal interval contains now wins; otherwise the earliest-starting
// candidate is chosen.
func (r *Resolver) CurrentPeriod(now time.Time) *db.Period {
	nowSecs := secondOfDay(now)
	table := r.periods()

	var graceMatch *db.Period
	for i := range table {
		p := &table[i]
		startMin, err := p.StartMinute()
		if err != nil {
			continue
		}
		endMin, err := p.EndMinute()
		if err != nil {
			continue
		}
		if nowSecs >= startMin*60 && nowSecs < endMin*60 {
			out := *p
			return &out
		}
		if graceMatch == nil && r.WithinAttendanceWindow(p, now) {
			out := *p
			graceMatch = &out
		}
	}
	return graceMatch
}

// NextPeriod returns the earliest active period whose nominal start is
// after now, or nil when no period remains today.
func (r *Resolver) NextPeriod(now time.Time) *db.Period {
	nowSecs := secondOfDay(now)
	table := r.periods()

	var best *db.Period
	bestStart := 0
	for i := range table {
		p := &table[i]
		startMin, err := p.StartMinute()
		if err != nil {
			continue
		}
		if startMin*60 <= nowSecs {
			continue
		}
		if best == nil || startMin < bestStart {
			out := *p
			best = &out
			bestStart = startMin
		}
	}
	return best
}
