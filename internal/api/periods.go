package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/campus-sensing/presence.report/internal/db"
)

// handlePeriods handles list and create operations.
func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPeriods(w, r)
	case http.MethodPost:
		s.createPeriod(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listPeriods(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	periods, err := s.db.ListPeriods(activeOnly)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"periods": periods,
		"count":   len(periods),
	})
}

func (s *Server) createPeriod(w http.ResponseWriter, r *http.Request) {
	var p db.Period
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.db.CreatePeriod(&p); err != nil {
		s.writePeriodError(w, err)
		return
	}

	s.resolver.Invalidate()
	s.writeJSON(w, http.StatusCreated, p)
}

// handlePeriodByID handles get, update, and deactivate for one period.
func (s *Server) handlePeriodByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/periods/"))
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid period id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getPeriod(w, r, id)
	case http.MethodPut:
		s.updatePeriod(w, r, id)
	case http.MethodDelete:
		s.deactivatePeriod(w, r, id)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getPeriod(w http.ResponseWriter, r *http.Request, id int64) {
	p, err := s.db.GetPeriod(id)
	if err != nil {
		s.writePeriodError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePeriod(w http.ResponseWriter, r *http.Request, id int64) {
	var p db.Period
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	p.ID = id

	if err := s.db.UpdatePeriod(&p); err != nil {
		s.writePeriodError(w, err)
		return
	}

	s.resolver.Invalidate()
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) deactivatePeriod(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.db.DeactivatePeriod(id); err != nil {
		s.writePeriodError(w, err)
		return
	}

	s.resolver.Invalidate()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "deactivated",
		"period_id": id,
	})
}

// writePeriodError maps period store errors onto HTTP statuses. A
// schedule conflict is a client error, not a server fault.
func (s *Server) writePeriodError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrPeriodNotFound):
		s.writeJSONError(w, http.StatusNotFound, "period not found")
	case errors.Is(err, db.ErrScheduleConflict):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}
