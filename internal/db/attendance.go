package db

import (
	"fmt"
)

// AttendanceRow is the persisted form of one (date, student, period)
// ledger record. Rows are rewritten whole on each flush; external
// storage never sees a partial record.
type AttendanceRow struct {
	Date          string   `json:"date"` // "YYYY-MM-DD"
	RollNo        string   `json:"roll_no"`
	PeriodID      int64    `json:"period_id"`
	EntryUnix     *float64 `json:"entry_unix"`
	ExitUnix      *float64 `json:"exit_unix"`
	DurationSecs  float64  `json:"duration_secs"`
	Present       bool     `json:"present"`
	CountedOnce   bool     `json:"counted_once"`
	AttendancePct float64  `json:"attendance_pct"`
}

// UpsertDayRecords writes a day's records in one transaction. The
// ledger calls this from the persistence loop with whatever changed
// since the previous flush.
func (db *DB) UpsertDayRecords(date string, rows []AttendanceRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin attendance flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO attendance (date, roll_no, period_id, entry_unix, exit_unix,
			duration_secs, present, counted_once, attendance_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch('subsec'))
		ON CONFLICT (date, roll_no, period_id) DO UPDATE SET
			entry_unix = excluded.entry_unix,
			exit_unix = excluded.exit_unix,
			duration_secs = excluded.duration_secs,
			present = excluded.present,
			counted_once = excluded.counted_once,
			attendance_pct = excluded.attendance_pct,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare attendance upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(date, row.RollNo, row.PeriodID, row.EntryUnix, row.ExitUnix,
			row.DurationSecs, boolToInt(row.Present), boolToInt(row.CountedOnce), row.AttendancePct)
		if err != nil {
			return fmt.Errorf("failed to upsert attendance for %s/%d: %w", row.RollNo, row.PeriodID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance flush: %w", err)
	}
	return nil
}

// LoadDayRecords returns all persisted records for a date. An unknown
// date returns an empty slice, not an error.
func (db *DB) LoadDayRecords(date string) ([]AttendanceRow, error) {
	rows, err := db.Query(`
		SELECT date, roll_no, period_id, entry_unix, exit_unix,
			duration_secs, present, counted_once, attendance_pct
		FROM attendance
		WHERE date = ?
		ORDER BY roll_no, period_id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance for %s: %w", date, err)
	}
	defer rows.Close()

	var records []AttendanceRow
	for rows.Next() {
		var r AttendanceRow
		var present, countedOnce int
		if err := rows.Scan(&r.Date, &r.RollNo, &r.PeriodID, &r.EntryUnix, &r.ExitUnix,
			&r.DurationSecs, &present, &countedOnce, &r.AttendancePct); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		r.Present = present == 1
		r.CountedOnce = countedOnce == 1
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}
