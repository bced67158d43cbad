package db

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentCRUD(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateStudent(&Student{RollNo: "101", Name: "Asha Rao", ClassName: "10A"}))
	require.NoError(t, database.CreateStudent(&Student{RollNo: "102", Name: "Benoit Faure", ClassName: "10A"}))

	s, err := database.GetStudent("101")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", s.Name)

	students, err := database.ListStudents()
	require.NoError(t, err)
	assert.Len(t, students, 2)

	require.NoError(t, database.DeleteStudent("101"))
	_, err = database.GetStudent("101")
	assert.ErrorIs(t, err, ErrStudentNotFound)

	assert.ErrorIs(t, database.DeleteStudent("101"), ErrStudentNotFound)
}

func TestCreateStudentValidation(t *testing.T) {
	database := newTestDB(t)

	assert.Error(t, database.CreateStudent(&Student{Name: "No Roll"}))
	assert.Error(t, database.CreateStudent(&Student{RollNo: "103"}))

	require.NoError(t, database.CreateStudent(&Student{RollNo: "103", Name: "Chen Li"}))
	// Duplicate roll number.
	assert.Error(t, database.CreateStudent(&Student{RollNo: "103", Name: "Other"}))
}

func TestAttendanceUpsertRoundTrip(t *testing.T) {
	database := newTestDB(t)
	period := mustCreatePeriod(t, database, "Maths", "09:00", "10:00", false)

	entry := 1767343205.0 // 09:00:05 local on the test day
	exit := entry + 1810
	rows := []AttendanceRow{
		{
			Date:          "2026-03-02",
			RollNo:        "101",
			PeriodID:      period.ID,
			EntryUnix:     &entry,
			ExitUnix:      &exit,
			DurationSecs:  1810,
			Present:       true,
			CountedOnce:   true,
			AttendancePct: 50.27,
		},
		{
			Date:        "2026-03-02",
			RollNo:      "102",
			PeriodID:    period.ID,
			EntryUnix:   &entry,
			Present:     true,
			CountedOnce: true,
		},
	}
	require.NoError(t, database.UpsertDayRecords("2026-03-02", rows))

	got, err := database.LoadDayRecords("2026-03-02")
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Errorf("persisted records mismatch (-want +got):\n%s", diff)
	}

	// A second flush rewrites the whole record.
	rows[1].ExitUnix = &exit
	rows[1].DurationSecs = 1810
	require.NoError(t, database.UpsertDayRecords("2026-03-02", rows))

	got, err = database.LoadDayRecords("2026-03-02")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotNil(t, got[1].ExitUnix)
	assert.Equal(t, 1810.0, got[1].DurationSecs)
}

func TestLoadDayRecordsUnknownDateIsEmpty(t *testing.T) {
	database := newTestDB(t)

	got, err := database.LoadDayRecords("1999-01-01")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertDayRecordsEmptyIsNoOp(t *testing.T) {
	database := newTestDB(t)
	assert.NoError(t, database.UpsertDayRecords("2026-03-02", nil))
}
