package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrScheduleConflict is returned when a period's nominal interval
// overlaps an existing active period. Grace windows are not considered
// in the overlap check.
var ErrScheduleConflict = errors.New("period overlaps an existing active period")

// ErrPeriodNotFound is returned for lookups of unknown period IDs.
var ErrPeriodNotFound = errors.New("period not found")

// Period is one row of the school-day schedule. Start and end are
// local wall-clock times ("HH:MM"); the end is exclusive. A period
// never spans midnight.
type Period struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Subject     string `json:"subject"`
	TeacherName string `json:"teacher_name"`
	IsBreak     bool   `json:"is_break"`
	IsActive    bool   `json:"is_active"`
}

// ParseClock converts an "HH:MM" wall-clock string to minutes since
// midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// StartMinute returns the period start as minutes since midnight.
// Periods read from the store always parse; the error path exists for
// structs built by hand.
func (p *Period) StartMinute() (int, error) { return ParseClock(p.StartTime) }

// EndMinute returns the period end as minutes since midnight.
func (p *Period) EndMinute() (int, error) { return ParseClock(p.EndTime) }

// DurationMinutes returns the nominal period length in minutes, or 0
// when the stored times do not parse.
func (p *Period) DurationMinutes() int {
	start, err := p.StartMinute()
	if err != nil {
		return 0
	}
	end, err := p.EndMinute()
	if err != nil {
		return 0
	}
	return end - start
}

// validatePeriod checks the interval shape and, against the set of
// active periods excluding excludeID, the non-overlap invariant.
func (db *DB) validatePeriod(p *Period, excludeID int64) error {
	start, err := p.StartMinute()
	if err != nil {
		return err
	}
	end, err := p.EndMinute()
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("period end %q must be after start %q", p.EndTime, p.StartTime)
	}

	existing, err := db.ListPeriods(true)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		oStart, err := other.StartMinute()
		if err != nil {
			continue // malformed rows never block new definitions
		}
		oEnd, err := other.EndMinute()
		if err != nil {
			continue
		}
		if start < oEnd && oStart < end {
			return fmt.Errorf("%w: %q [%s, %s)", ErrScheduleConflict, other.Name, other.StartTime, other.EndTime)
		}
	}
	return nil
}

// CreatePeriod inserts a new period after validating its interval and
// the schedule non-overlap invariant.
func (db *DB) CreatePeriod(p *Period) error {
	if err := db.validatePeriod(p, 0); err != nil {
		return err
	}

	result, err := db.Exec(`
		INSERT INTO periods (name, start_time, end_time, subject, teacher_name, is_break, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.StartTime, p.EndTime, p.Subject, p.TeacherName, boolToInt(p.IsBreak), boolToInt(p.IsActive))
	if err != nil {
		return fmt.Errorf("failed to create period: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	p.ID = id
	return nil
}

// UpdatePeriod rewrites an existing period, re-checking the overlap
// invariant against every other active period.
func (db *DB) UpdatePeriod(p *Period) error {
	if err := db.validatePeriod(p, p.ID); err != nil {
		return err
	}

	result, err := db.Exec(`
		UPDATE periods SET
			name = ?, start_time = ?, end_time = ?,
			subject = ?, teacher_name = ?, is_break = ?, is_active = ?,
			updated_at = unixepoch('subsec')
		WHERE id = ?
	`, p.Name, p.StartTime, p.EndTime, p.Subject, p.TeacherName, boolToInt(p.IsBreak), boolToInt(p.IsActive), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

// DeactivatePeriod soft-deletes a period. Rows are never hard-deleted
// while historical attendance references them.
func (db *DB) DeactivatePeriod(id int64) error {
	result, err := db.Exec(`
		UPDATE periods SET is_active = 0, updated_at = unixepoch('subsec')
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate period: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

// GetPeriod retrieves a period by ID.
func (db *DB) GetPeriod(id int64) (*Period, error) {
	var p Period
	var isBreak, isActive int
	err := db.QueryRow(`
		SELECT id, name, start_time, end_time, subject, teacher_name, is_break, is_active
		FROM periods WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.StartTime, &p.EndTime, &p.Subject, &p.TeacherName, &isBreak, &isActive)
	if err == sql.ErrNoRows {
		return nil, ErrPeriodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}
	p.IsBreak = isBreak == 1
	p.IsActive = isActive == 1
	return &p, nil
}

// ListPeriods returns the schedule ordered by start time. With
// activeOnly, deactivated periods are skipped.
func (db *DB) ListPeriods(activeOnly bool) ([]Period, error) {
	query := `
		SELECT id, name, start_time, end_time, subject, teacher_name, is_break, is_active
		FROM periods
	`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY start_time ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []Period
	for rows.Next() {
		var p Period
		var isBreak, isActive int
		if err := rows.Scan(&p.ID, &p.Name, &p.StartTime, &p.EndTime, &p.Subject, &p.TeacherName, &isBreak, &isActive); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		p.IsBreak = isBreak == 1
		p.IsActive = isActive == 1
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating periods: %w", err)
	}
	return periods, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
