// Package api exposes the HTTP surface: period and student admin,
// attendance queries and exports, live pipeline state and the report
// page.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/ledger"
	"github.com/campus-sensing/presence.report/internal/monitoring"
	"github.com/campus-sensing/presence.report/internal/schedule"
	"github.com/campus-sensing/presence.report/internal/timeutil"
	"github.com/campus-sensing/presence.report/internal/track"
	"github.com/campus-sensing/presence.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db       *db.DB
	ledger   *ledger.Ledger
	resolver *schedule.Resolver
	tracker  *track.Tracker
	counters *monitoring.PipelineCounters
	clock    timeutil.Clock
}

func NewServer(database *db.DB, led *ledger.Ledger, resolver *schedule.Resolver,
	tracker *track.Tracker, counters *monitoring.PipelineCounters, clock timeutil.Clock) *Server {
	return &Server{
		db:       database,
		ledger:   led,
		resolver: resolver,
		tracker:  tracker,
		counters: counters,
		clock:    clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.showHealth)
	mux.HandleFunc("/api/periods", s.handlePeriods)
	mux.HandleFunc("/api/periods/", s.handlePeriodByID)
	mux.HandleFunc("/api/students", s.handleStudents)
	mux.HandleFunc("/api/students/", s.handleStudentByID)
	mux.HandleFunc("/api/attendance", s.showAttendance)
	mux.HandleFunc("/api/attendance/student", s.showStudentAttendance)
	mux.HandleFunc("/api/attendance/summary", s.showAttendanceSummary)
	mux.HandleFunc("/api/attendance/export", s.exportAttendanceCSV)
	mux.HandleFunc("/api/tracks", s.showTracks)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/report", s.showReport)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to write response: %v", err)
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// dateParam returns the date query parameter, defaulting to today.
func (s *Server) dateParam(r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return ledger.DateOf(s.clock.Now()), true
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", false
	}
	return date, true
}
