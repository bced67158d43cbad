package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-sensing/presence.report/internal/config"
	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/ledger"
	"github.com/campus-sensing/presence.report/internal/monitoring"
	"github.com/campus-sensing/presence.report/internal/schedule"
	"github.com/campus-sensing/presence.report/internal/timeutil"
	"github.com/campus-sensing/presence.report/internal/track"
)

type testEnv struct {
	server *Server
	db     *db.DB
	ledger *ledger.Ledger
	clock  *timeutil.MockClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.EmptyTuningConfig()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	led := ledger.New(database, cfg)
	resolver := schedule.New(database, clock, 5*time.Minute, 30*time.Second)
	tracker := track.NewTracker(cfg)
	counters := &monitoring.PipelineCounters{}

	return &testEnv{
		server: NewServer(database, led, resolver, tracker, counters, clock),
		db:     database,
		ledger: led,
		clock:  clock,
	}
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestPeriodCRUD(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodPost, "/api/periods",
		`{"name":"Mathematics","start_time":"09:00","end_time":"10:00","subject":"Math","is_active":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created db.Period
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	rec = e.request(t, http.MethodGet, fmt.Sprintf("/api/periods/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.request(t, http.MethodPut, fmt.Sprintf("/api/periods/%d", created.ID),
		`{"name":"Mathematics","start_time":"09:00","end_time":"09:45","subject":"Math","is_active":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.request(t, http.MethodGet, "/api/periods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Periods []db.Period `json:"periods"`
		Count   int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "09:45", listed.Periods[0].EndTime)

	rec = e.request(t, http.MethodDelete, fmt.Sprintf("/api/periods/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.request(t, http.MethodGet, "/api/periods", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 0, listed.Count, "deactivated periods drop out of the active list")
}

func TestOverlappingPeriodRejected(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodPost, "/api/periods",
		`{"name":"Mathematics","start_time":"09:00","end_time":"10:00","is_active":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.request(t, http.MethodPost, "/api/periods",
		`{"name":"Physics","start_time":"09:30","end_time":"10:30","is_active":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestUnknownPeriod404(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/periods/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.request(t, http.MethodGet, "/api/periods/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStudentCRUD(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodPost, "/api/students",
		`{"roll_no":"21","name":"Asha Verma","class_name":"10A"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.request(t, http.MethodGet, "/api/students/21", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st db.Student
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "Asha Verma", st.Name)

	rec = e.request(t, http.MethodGet, "/api/students/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.request(t, http.MethodDelete, "/api/students/21", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.request(t, http.MethodGet, "/api/students", "")
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 0, listed.Count)
}

func TestAttendanceUnknownDateEmpty(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodGet, "/api/attendance?date=1999-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []db.AttendanceRow `json:"records"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Records)
}

func TestAttendanceBadDateRejected(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodGet, "/api/attendance?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendanceServedFromLedger(t *testing.T) {
	e := newTestEnv(t)
	p := &db.Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	require.NoError(t, e.db.CreatePeriod(p))

	e.ledger.ApplyEntry("21", p, time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC))
	e.ledger.ApplyExit("21", p, time.Date(2026, 3, 2, 9, 45, 5, 0, time.UTC))

	rec := e.request(t, http.MethodGet, "/api/attendance?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []db.AttendanceRow `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "21", body.Records[0].RollNo)
	assert.True(t, body.Records[0].Present)

	rec = e.request(t, http.MethodGet, "/api/attendance/student?date=2026-03-02&roll_no=21", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Records, 1)
}

func TestAttendanceFallsBackToStorage(t *testing.T) {
	e := newTestEnv(t)
	entry := float64(time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC).Unix())
	require.NoError(t, e.db.UpsertDayRecords("2026-02-27", []db.AttendanceRow{{
		Date: "2026-02-27", RollNo: "21", PeriodID: 1,
		EntryUnix: &entry, DurationSecs: 3000, Present: true, CountedOnce: true,
		AttendancePct: 83.3,
	}}))

	rec := e.request(t, http.MethodGet, "/api/attendance?date=2026-02-27", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []db.AttendanceRow `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, 3000.0, body.Records[0].DurationSecs)
}

func TestAttendanceSummary(t *testing.T) {
	e := newTestEnv(t)
	p1 := &db.Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	p2 := &db.Period{Name: "Physics", StartTime: "10:00", EndTime: "11:00", IsActive: true}
	recess := &db.Period{Name: "Recess", StartTime: "11:00", EndTime: "11:15", IsBreak: true, IsActive: true}
	require.NoError(t, e.db.CreatePeriod(p1))
	require.NoError(t, e.db.CreatePeriod(p2))
	require.NoError(t, e.db.CreatePeriod(recess))
	require.NoError(t, e.db.CreateStudent(&db.Student{RollNo: "21", Name: "Asha Verma"}))
	require.NoError(t, e.db.CreateStudent(&db.Student{RollNo: "22", Name: "Ravi Nair"}))

	// Roll 21 attends both lessons, roll 22 never shows up.
	e.ledger.ApplyEntry("21", p1, time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC))
	e.ledger.ApplyExit("21", p1, time.Date(2026, 3, 2, 9, 55, 5, 0, time.UTC))
	e.ledger.ApplyEntry("21", p2, time.Date(2026, 3, 2, 10, 0, 5, 0, time.UTC))
	e.ledger.ApplyExit("21", p2, time.Date(2026, 3, 2, 10, 55, 5, 0, time.UTC))

	rec := e.request(t, http.MethodGet, "/api/attendance/summary?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Students        []ledger.StudentDayTotals `json:"students"`
		ScorablePeriods int                       `json:"scorable_periods"`
		RosterSize      int                       `json:"roster_size"`
		OverallPct      float64                   `json:"overall_pct"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.ScorablePeriods, "break does not count")
	assert.Equal(t, 2, body.RosterSize)
	require.Len(t, body.Students, 1)
	assert.Equal(t, "21", body.Students[0].RollNo)
	assert.Equal(t, 2, body.Students[0].PresentPeriods)
	assert.Equal(t, 0, body.Students[0].AbsentPeriods)
	// 2 present out of 2 students x 2 scorable periods.
	assert.InDelta(t, 50.0, body.OverallPct, 0.01)
}

func TestExportCSV(t *testing.T) {
	e := newTestEnv(t)
	p := &db.Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	require.NoError(t, e.db.CreatePeriod(p))
	e.ledger.ApplyEntry("21", p, time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC))
	e.ledger.ApplyExit("21", p, time.Date(2026, 3, 2, 9, 45, 5, 0, time.UTC))

	rec := e.request(t, http.MethodGet, "/api/attendance/export?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attendance_2026-03-02.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "date,roll_no,period_id,entry_time,exit_time,duration_secs,present,attendance_pct", lines[0])
	assert.Contains(t, lines[1], "2026-03-02,21,")
	assert.Contains(t, lines[1], "09:00:05")
}

// brokenWriter drops the connection on the first write, like a client
// that went away mid-download.
type brokenWriter struct {
	header http.Header
}

func (b *brokenWriter) Header() http.Header       { return b.header }
func (b *brokenWriter) WriteHeader(int)           {}
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestExportCSVLogsWriteFailure(t *testing.T) {
	e := newTestEnv(t)

	var logged []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	req := httptest.NewRequest(http.MethodGet, "/api/attendance/export?date=2026-03-02", nil)
	e.server.exportAttendanceCSV(&brokenWriter{header: make(http.Header)}, req)

	require.NotEmpty(t, logged)
	assert.Contains(t, logged[len(logged)-1], "export")
	assert.Contains(t, logged[len(logged)-1], "broken pipe")
}

func TestStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	p := &db.Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	require.NoError(t, e.db.CreatePeriod(p))

	rec := e.request(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Counters      map[string]int64 `json:"counters"`
		LiveTracks    int              `json:"live_tracks"`
		CurrentPeriod *db.Period       `json:"current_period"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.LiveTracks)
	// Clock sits at 09:30, inside the configured period.
	require.NotNil(t, body.CurrentPeriod)
	assert.Equal(t, "Mathematics", body.CurrentPeriod.Name)
}

func TestReportPage(t *testing.T) {
	e := newTestEnv(t)
	p := &db.Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	require.NoError(t, e.db.CreatePeriod(p))
	e.ledger.ApplyEntry("21", p, time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC))
	e.ledger.ApplyExit("21", p, time.Date(2026, 3, 2, 9, 45, 5, 0, time.UTC))

	rec := e.request(t, http.MethodGet, "/api/report?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Daily Attendance")
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/attendance", "/api/stats", "/api/tracks", "/api/report"} {
		rec := e.request(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}
