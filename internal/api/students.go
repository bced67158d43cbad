package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/campus-sensing/presence.report/internal/db"
)

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listStudents(w, r)
	case http.MethodPost:
		s.createStudent(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.db.ListStudents()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"students": students,
		"count":    len(students),
	})
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) {
	var st db.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.db.CreateStudent(&st); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStudentByID(w http.ResponseWriter, r *http.Request) {
	rollNo := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/students/"))
	if rollNo == "" {
		s.writeJSONError(w, http.StatusBadRequest, "roll number is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := s.db.GetStudent(rollNo)
		if errors.Is(err, db.ErrStudentNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "student not found")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
			return
		}
		s.writeJSON(w, http.StatusOK, st)
	case http.MethodDelete:
		if err := s.db.DeleteStudent(rollNo); err != nil {
			if errors.Is(err, db.ErrStudentNotFound) {
				s.writeJSONError(w, http.StatusNotFound, "student not found")
				return
			}
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("delete failed: %v", err))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "deleted",
			"roll_no": rollNo,
		})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
