package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Course semesters.
const (
	SemesterEven = "Even"
	SemesterOdd  = "Odd"
)

// AllDepartments disables the department filter on course listings.
const AllDepartments = "All Departments"

// CourseSchedule is stored as a JSONB document on the course row.
type CourseSchedule struct {
	Days []string `json:"days"`
	Time string   `json:"time"`
	Room string   `json:"room"`
}

// Value implements driver.Valuer.
func (s CourseSchedule) Value() (driver.Value, error) {
	if s.Days == nil {
		s.Days = []string{}
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *CourseSchedule) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = CourseSchedule{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported schedule type %T", src)
	}
}

// Course is a catalog entry. Enrolled is maintained only by the enrollment
// ledger and always counts the active enrollments of the course.
type Course struct {
	ID            string         `db:"id" json:"id"`
	Code          string         `db:"code" json:"code"`
	Title         string         `db:"title" json:"title"`
	Description   string         `db:"description" json:"description"`
	Credits       int            `db:"credits" json:"credits"`
	Department    string         `db:"department" json:"department"`
	Instructor    string         `db:"instructor" json:"instructor"`
	Schedule      CourseSchedule `db:"schedule" json:"schedule"`
	Prerequisites pq.StringArray `db:"prerequisites" json:"prerequisites"`
	Semester      string         `db:"semester" json:"semester"`
	Year          int            `db:"year" json:"year"`
	Capacity      int            `db:"capacity" json:"capacity"`
	Enrolled      int            `db:"enrolled" json:"enrolled"`
	Active        bool           `db:"active" json:"is_active"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	Files         []CourseFile   `db:"-" json:"files"`
}

// AvailableSeats is capacity minus the active enrollments.
func (c Course) AvailableSeats() int {
	return c.Capacity - c.Enrolled
}

// MarshalJSON adds the derived available_seats field.
func (c Course) MarshalJSON() ([]byte, error) {
	type course Course
	files := c.Files
	if files == nil {
		files = []CourseFile{}
	}
	prereqs := c.Prerequisites
	if prereqs == nil {
		prereqs = pq.StringArray{}
	}
	out := struct {
		course
		Files          []CourseFile   `json:"files"`
		Prerequisites  pq.StringArray `json:"prerequisites"`
		AvailableSeats int            `json:"available_seats"`
	}{
		course:         course(c),
		Files:          files,
		Prerequisites:  prereqs,
		AvailableSeats: c.AvailableSeats(),
	}
	return json.Marshal(out)
}

// CourseSummary is the course projection embedded in a student's course list.
type CourseSummary struct {
	ID         string `db:"id" json:"id"`
	Code       string `db:"code" json:"code"`
	Title      string `db:"title" json:"title"`
	Department string `db:"department" json:"department"`
	Credits    int    `db:"credits" json:"credits"`
	Capacity   int    `db:"capacity" json:"capacity"`
	Enrolled   int    `db:"enrolled" json:"enrolled"`
	Active     bool   `db:"active" json:"is_active"`
}

// CourseFilter narrows catalog listings.
type CourseFilter struct {
	Department      string
	Search          string
	IncludeInactive bool
}

// CourseFile is an attachment stored in an object store.
type CourseFile struct {
	ID          string    `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	Name        string    `db:"name" json:"name"`
	URL         string    `db:"url" json:"url"`
	Size        int64     `db:"size" json:"size"`
	StorageKey  string    `db:"storage_key" json:"storage_key"`
	ContentType string    `db:"content_type" json:"content_type"`
	UploadedBy  *string   `db:"uploaded_by" json:"uploaded_by,omitempty"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}
