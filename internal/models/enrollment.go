package models

import "time"

// EnrollmentStatus enumerates the enrollment lifecycle states.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "enrolled"
	EnrollmentStatusDropped   EnrollmentStatus = "dropped"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
)

// Grades accepted when completing an enrollment.
var Grades = []string{"A", "B", "C", "D", "F"}

// Enrollment is one student's registration in one course. At most one row
// per (student, course) is in the enrolled state.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	Grade       *string          `db:"grade" json:"grade"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// RosterEntry is one enrolled student on a course roster.
type RosterEntry struct {
	EnrollmentID string    `db:"enrollment_id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	StudentID    *string   `db:"student_id" json:"student_id"`
	Major        *string   `db:"major" json:"major"`
	Semester     *int      `db:"semester" json:"semester"`
	EnrolledAt   time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// MyCourseEntry pairs an active enrollment with its course.
type MyCourseEntry struct {
	Enrollment Enrollment    `json:"enrollment"`
	Course     CourseSummary `json:"course"`
}

// CourseDrift is a course whose counter disagrees with its active rows.
type CourseDrift struct {
	CourseID string `db:"id"`
	Code     string `db:"code"`
	Enrolled int    `db:"enrolled"`
	Actual   int    `db:"actual"`
}

// ReconcileCorrection reports one counter repaired by reconciliation.
type ReconcileCorrection struct {
	CourseID     string `json:"course_id"`
	Code         string `json:"code"`
	Previous     int    `json:"previous"`
	Actual       int    `json:"actual"`
	OverCapacity bool   `json:"over_capacity"`
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Checked     int                   `json:"checked"`
	Corrections []ReconcileCorrection `json:"corrections"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
}
