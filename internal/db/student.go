package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrStudentNotFound is returned for lookups of unknown roll numbers.
var ErrStudentNotFound = errors.New("student not found")

// Student is one enrolled student, keyed by roll number.
type Student struct {
	RollNo    string `json:"roll_no"`
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
}

// CreateStudent registers a new student. Roll numbers are unique.
func (db *DB) CreateStudent(s *Student) error {
	if s.RollNo == "" {
		return fmt.Errorf("roll number is required")
	}
	if s.Name == "" {
		return fmt.Errorf("student name is required")
	}

	_, err := db.Exec(`
		INSERT INTO students (roll_no, name, class_name) VALUES (?, ?, ?)
	`, s.RollNo, s.Name, s.ClassName)
	if err != nil {
		return fmt.Errorf("failed to create student %s: %w", s.RollNo, err)
	}
	return nil
}

// GetStudent retrieves a student by roll number.
func (db *DB) GetStudent(rollNo string) (*Student, error) {
	var s Student
	err := db.QueryRow(`
		SELECT roll_no, name, class_name FROM students WHERE roll_no = ?
	`, rollNo).Scan(&s.RollNo, &s.Name, &s.ClassName)
	if err == sql.ErrNoRows {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &s, nil
}

// ListStudents returns all enrolled students ordered by roll number.
func (db *DB) ListStudents() ([]Student, error) {
	rows, err := db.Query(`SELECT roll_no, name, class_name FROM students ORDER BY roll_no ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.RollNo, &s.Name, &s.ClassName); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating students: %w", err)
	}
	return students, nil
}

// DeleteStudent removes a student. Attendance history rows keep the
// roll number; reports show it raw when the student is gone.
func (db *DB) DeleteStudent(rollNo string) error {
	result, err := db.Exec(`DELETE FROM students WHERE roll_no = ?`, rollNo)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}
