// Package ledger turns confirmed boundary crossings into per-day
// attendance records. Cells are keyed by (date, roll number, period);
// all mutation happens in memory with dirty tracking, and a separate
// persistence loop flushes changed rows to storage.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/campus-sensing/presence.report/internal/config"
	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/monitoring"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	UpsertDayRecords(date string, rows []db.AttendanceRow) error
	LoadDayRecords(date string) ([]db.AttendanceRow, error)
}

type cellKey struct {
	RollNo   string
	PeriodID int64
}

// cell is the in-memory working state of one attendance row. openEntry
// is the start of the current visit; it is nil between visits and is
// never persisted.
type cell struct {
	row       db.AttendanceRow
	openEntry *time.Time
}

type dayLedger struct {
	cells map[cellKey]*cell
	dirty map[cellKey]bool
}

// Ledger is the authoritative in-memory attendance state.
type Ledger struct {
	mu    sync.RWMutex
	cfg   *config.TuningConfig
	store Store
	days  map[string]*dayLedger
}

func New(store Store, cfg *config.TuningConfig) *Ledger {
	return &Ledger{cfg: cfg, store: store, days: make(map[string]*dayLedger)}
}

// DateOf formats a timestamp as the ledger's day key.
func DateOf(ts time.Time) string { return ts.Format("2006-01-02") }

func (l *Ledger) day(date string) *dayLedger {
	d, ok := l.days[date]
	if !ok {
		d = &dayLedger{cells: make(map[cellKey]*cell), dirty: make(map[cellKey]bool)}
		l.days[date] = d
	}
	return d
}

// ApplyEntry records an entry crossing for a student during a period.
// The present flag is set at most once per cell regardless of how many
// times the student re-enters; the recorded entry time follows the
// configured re-entry policy. Crossings during breaks or with no
// period in session are ignored and return false.
func (l *Ledger) ApplyEntry(rollNo string, p *db.Period, ts time.Time) bool {
	if p == nil || p.IsBreak {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := DateOf(ts)
	d := l.day(date)
	key := cellKey{RollNo: rollNo, PeriodID: p.ID}
	c, ok := d.cells[key]
	if !ok {
		c = &cell{row: db.AttendanceRow{Date: date, RollNo: rollNo, PeriodID: p.ID}}
		d.cells[key] = c
	}

	unix := float64(ts.UnixMilli()) / 1000
	if c.row.EntryUnix == nil || l.cfg.GetReentryPolicy() == config.ReentryOverwrite {
		c.row.EntryUnix = &unix
	}
	if !c.row.CountedOnce {
		c.row.Present = true
		c.row.CountedOnce = true
	}
	openAt := ts
	c.openEntry = &openAt
	d.dirty[key] = true
	return true
}

// ApplyExit records an exit crossing, closing the open visit and
// accumulating its duration. An exit whose timestamp precedes the open
// entry is a clock fault: the visit contributes zero duration and the
// second return value is true. An exit with no open visit (a student
// first observed inside the room) records the exit time only.
func (l *Ledger) ApplyExit(rollNo string, p *db.Period, ts time.Time) (applied, temporalFault bool) {
	if p == nil || p.IsBreak {
		return false, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := DateOf(ts)
	d := l.day(date)
	key := cellKey{RollNo: rollNo, PeriodID: p.ID}
	c, ok := d.cells[key]
	if !ok {
		c = &cell{row: db.AttendanceRow{Date: date, RollNo: rollNo, PeriodID: p.ID}}
		d.cells[key] = c
	}

	unix := float64(ts.UnixMilli()) / 1000
	c.row.ExitUnix = &unix

	if c.openEntry != nil {
		dur := ts.Sub(*c.openEntry).Seconds()
		if dur < 0 {
			monitoring.Logf("ledger: exit before entry for %s period %d (%.3fs), clamping to zero",
				rollNo, p.ID, dur)
			dur = 0
			temporalFault = true
		}
		c.row.DurationSecs += dur
		c.openEntry = nil
	}

	c.row.AttendancePct = attendancePct(&c.row, p)
	d.dirty[key] = true
	return true, temporalFault
}

// attendancePct is the attended share of the period's nominal length,
// capped at 100.
func attendancePct(row *db.AttendanceRow, p *db.Period) float64 {
	mins := p.DurationMinutes()
	if mins <= 0 {
		return 0
	}
	pct := row.DurationSecs / (float64(mins) * 60) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ClosePeriod finalises open visits for a period that has ended. Each
// still-open visit is closed at the period end timestamp so lingering
// students do not accrue time into the next period.
func (l *Ledger) ClosePeriod(p *db.Period, endTs time.Time) {
	if p == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.days[DateOf(endTs)]
	if !ok {
		return
	}
	for key, c := range d.cells {
		if key.PeriodID != p.ID || c.openEntry == nil {
			continue
		}
		dur := endTs.Sub(*c.openEntry).Seconds()
		if dur < 0 {
			dur = 0
		}
		c.row.DurationSecs += dur
		unix := float64(endTs.UnixMilli()) / 1000
		c.row.ExitUnix = &unix
		c.openEntry = nil
		c.row.AttendancePct = attendancePct(&c.row, p)
		d.dirty[key] = true
	}
}

// Record returns a copy of one cell's row, or false when absent.
func (l *Ledger) Record(date, rollNo string, periodID int64) (db.AttendanceRow, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.days[date]
	if !ok {
		return db.AttendanceRow{}, false
	}
	c, ok := d.cells[cellKey{RollNo: rollNo, PeriodID: periodID}]
	if !ok {
		return db.AttendanceRow{}, false
	}
	return c.row, true
}

// DaySummary returns copies of all rows for a date, ordered by roll
// number then period. An unknown date yields an empty slice.
func (l *Ledger) DaySummary(date string) []db.AttendanceRow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.days[date]
	if !ok {
		return []db.AttendanceRow{}
	}
	rows := make([]db.AttendanceRow, 0, len(d.cells))
	for _, c := range d.cells {
		rows = append(rows, c.row)
	}
	sortRows(rows)
	return rows
}

// StudentDaySummary returns one student's rows for a date, ordered by
// period.
func (l *Ledger) StudentDaySummary(date, rollNo string) []db.AttendanceRow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.days[date]
	if !ok {
		return []db.AttendanceRow{}
	}
	var rows []db.AttendanceRow
	for key, c := range d.cells {
		if key.RollNo == rollNo {
			rows = append(rows, c.row)
		}
	}
	sortRows(rows)
	return rows
}

// StudentDayTotals is the derived per-student aggregate for one date.
type StudentDayTotals struct {
	RollNo            string  `json:"roll_no"`
	PresentPeriods    int     `json:"present_periods"`
	AbsentPeriods     int     `json:"absent_periods"`
	TotalDurationSecs float64 `json:"total_duration_secs"`
}

// DayTotals recomputes per-student aggregates for a date against the
// scorable schedule. periods is the active period table; breaks never
// count toward present or absent.
func (l *Ledger) DayTotals(date string, periods []db.Period) []StudentDayTotals {
	return TotalsFromRows(l.DaySummary(date), periods)
}

// TotalsFromRows aggregates attendance rows into per-student totals,
// whether the rows came from the live ledger or from storage.
func TotalsFromRows(rows []db.AttendanceRow, periods []db.Period) []StudentDayTotals {
	scorable := make(map[int64]bool)
	for _, p := range periods {
		if p.IsActive && !p.IsBreak {
			scorable[p.ID] = true
		}
	}

	byStudent := make(map[string]*StudentDayTotals)
	var order []string
	for _, row := range rows {
		t, seen := byStudent[row.RollNo]
		if !seen {
			t = &StudentDayTotals{RollNo: row.RollNo}
			byStudent[row.RollNo] = t
			order = append(order, row.RollNo)
		}
		if row.Present && scorable[row.PeriodID] {
			t.PresentPeriods++
		}
		t.TotalDurationSecs += row.DurationSecs
	}

	sort.Strings(order)
	totals := make([]StudentDayTotals, 0, len(order))
	for _, rollNo := range order {
		t := byStudent[rollNo]
		t.AbsentPeriods = len(scorable) - t.PresentPeriods
		totals = append(totals, *t)
	}
	return totals
}

// Dirty reports whether any cell changed since the last flush.
func (l *Ledger) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, d := range l.days {
		if len(d.dirty) > 0 {
			return true
		}
	}
	return false
}

// Flush writes every dirty row to the store, one transaction per day.
// Rows stay dirty when their day's write fails, so the next flush
// retries them.
func (l *Ledger) Flush() (written int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for date, d := range l.days {
		if len(d.dirty) == 0 {
			continue
		}
		rows := make([]db.AttendanceRow, 0, len(d.dirty))
		for key := range d.dirty {
			rows = append(rows, d.cells[key].row)
		}
		sortRows(rows)
		if werr := l.store.UpsertDayRecords(date, rows); werr != nil {
			err = fmt.Errorf("failed to flush attendance for %s: %w", date, werr)
			continue
		}
		written += len(rows)
		d.dirty = make(map[cellKey]bool)
	}
	return written, err
}

// LoadDay warms the in-memory state from storage, replacing any
// unsaved cells for that date. Open visit state is not recoverable.
func (l *Ledger) LoadDay(date string) error {
	rows, err := l.store.LoadDayRecords(date)
	if err != nil {
		return fmt.Errorf("failed to load attendance for %s: %w", date, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d := &dayLedger{cells: make(map[cellKey]*cell), dirty: make(map[cellKey]bool)}
	for _, row := range rows {
		d.cells[cellKey{RollNo: row.RollNo, PeriodID: row.PeriodID}] = &cell{row: row}
	}
	l.days[date] = d
	return nil
}

func sortRows(rows []db.AttendanceRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RollNo != rows[j].RollNo {
			return rows[i].RollNo < rows[j].RollNo
		}
		return rows[i].PeriodID < rows[j].PeriodID
	})
}
