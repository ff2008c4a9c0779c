package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, status, grade, enrolled_at, dropped_at, completed_at`

// LedgerTx is one enrollment ledger unit of work. Callers lock the course
// row before touching any of its enrollment rows and finish with exactly one
// of Commit or Rollback.
type LedgerTx interface {
	// LockCourse returns the course row locked for update, or sql.ErrNoRows.
	LockCourse(ctx context.Context, courseID string) (*models.Course, error)
	// FindActive locks the enrolled row for (student, course), or sql.ErrNoRows.
	FindActive(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	// FindByID locks an enrollment row by id, or sql.ErrNoRows.
	FindByID(ctx context.Context, enrollmentID string) (*models.Enrollment, error)
	// InsertEnrollment returns ErrDuplicateActive when the pair is already enrolled.
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	// IncrementEnrolled reports false when the course is already at capacity.
	IncrementEnrolled(ctx context.Context, courseID string) (bool, error)
	DecrementEnrolled(ctx context.Context, courseID string) error
	MarkDropped(ctx context.Context, enrollmentID string, at time.Time) error
	MarkCompleted(ctx context.Context, enrollmentID, grade string, at time.Time) error
	CountActive(ctx context.Context, courseID string) (int, error)
	SetEnrolled(ctx context.Context, courseID string, enrolled int) error
	Commit() error
	Rollback() error
}

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// BeginLedger opens a ledger transaction.
func (r *EnrollmentRepository) BeginLedger(ctx context.Context) (LedgerTx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	return &ledgerTx{tx: tx}, nil
}

// FindByID returns an enrollment without locking it.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// ListRoster returns the enrolled students of a course in enrollment order.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	const query = `SELECT e.id AS enrollment_id, u.id AS user_id, u.full_name AS name, u.email, u.student_id, u.major, u.semester, e.enrolled_at
FROM enrollments e
JOIN users u ON u.id = e.student_id
WHERE e.course_id = $1 AND e.status = 'enrolled'
ORDER BY e.enrolled_at ASC, e.id ASC`
	entries := []models.RosterEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, courseID); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return entries, nil
}

type myCourseRow struct {
	models.Enrollment
	CourseCode       string `db:"course_code"`
	CourseTitle      string `db:"course_title"`
	CourseDepartment string `db:"course_department"`
	CourseCredits    int    `db:"course_credits"`
	CourseCapacity   int    `db:"course_capacity"`
	CourseEnrolled   int    `db:"course_enrolled"`
	CourseActive     bool   `db:"course_active"`
}

// ListMyCourses returns a student's active enrollments with their courses.
func (r *EnrollmentRepository) ListMyCourses(ctx context.Context, studentID string) ([]models.MyCourseEntry, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.grade, e.enrolled_at, e.dropped_at, e.completed_at,
c.code AS course_code, c.title AS course_title, c.department AS course_department, c.credits AS course_credits,
c.capacity AS course_capacity, c.enrolled AS course_enrolled, c.active AS course_active
FROM enrollments e
JOIN courses c ON c.id = e.course_id
WHERE e.student_id = $1 AND e.status = 'enrolled'
ORDER BY e.enrolled_at ASC`
	var rows []myCourseRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("list student courses: %w", err)
	}
	entries := make([]models.MyCourseEntry, len(rows))
	for i, row := range rows {
		entries[i] = models.MyCourseEntry{
			Enrollment: row.Enrollment,
			Course: models.CourseSummary{
				ID:         row.CourseID,
				Code:       row.CourseCode,
				Title:      row.CourseTitle,
				Department: row.CourseDepartment,
				Credits:    row.CourseCredits,
				Capacity:   row.CourseCapacity,
				Enrolled:   row.CourseEnrolled,
				Active:     row.CourseActive,
			},
		}
	}
	return entries, nil
}

// ListDrift returns courses whose counter differs from their active rows.
func (r *EnrollmentRepository) ListDrift(ctx context.Context) ([]models.CourseDrift, error) {
	const query = `SELECT c.id, c.code, c.enrolled, COALESCE(a.actual, 0) AS actual
FROM courses c
LEFT JOIN (
	SELECT course_id, COUNT(*) AS actual FROM enrollments WHERE status = 'enrolled' GROUP BY course_id
) a ON a.course_id = c.id
WHERE c.enrolled <> COALESCE(a.actual, 0)
ORDER BY c.code ASC`
	drift := []models.CourseDrift{}
	if err := r.db.SelectContext(ctx, &drift, query); err != nil {
		return nil, fmt.Errorf("list counter drift: %w", err)
	}
	return drift, nil
}

// CountCourses returns the number of catalog rows checked by reconciliation.
func (r *EnrollmentRepository) CountCourses(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM courses`); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return n, nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (l *ledgerTx) LockCourse(ctx context.Context, courseID string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR UPDATE`
	var course models.Course
	if err := l.tx.GetContext(ctx, &course, query, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}
	return &course, nil
}

func (l *ledgerTx) FindActive(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = 'enrolled' FOR UPDATE`
	var enrollment models.Enrollment
	if err := l.tx.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock active enrollment: %w", err)
	}
	return &enrollment, nil
}

func (l *ledgerTx) FindByID(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := l.tx.GetContext(ctx, &enrollment, query, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &enrollment, nil
}

func (l *ledgerTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusEnrolled
	const query = `INSERT INTO enrollments (id, student_id, course_id, status, enrolled_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := l.tx.ExecContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.CourseID, enrollment.Status, enrollment.EnrolledAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (l *ledgerTx) IncrementEnrolled(ctx context.Context, courseID string) (bool, error) {
	const query = `UPDATE courses SET enrolled = enrolled + 1, updated_at = NOW() WHERE id = $1 AND enrolled < capacity`
	res, err := l.tx.ExecContext(ctx, query, courseID)
	if err != nil {
		return false, fmt.Errorf("increment enrolled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment enrolled rows: %w", err)
	}
	return affected == 1, nil
}

func (l *ledgerTx) DecrementEnrolled(ctx context.Context, courseID string) error {
	const query = `UPDATE courses SET enrolled = GREATEST(enrolled - 1, 0), updated_at = NOW() WHERE id = $1`
	if _, err := l.tx.ExecContext(ctx, query, courseID); err != nil {
		return fmt.Errorf("decrement enrolled: %w", err)
	}
	return nil
}

func (l *ledgerTx) MarkDropped(ctx context.Context, enrollmentID string, at time.Time) error {
	const query = `UPDATE enrollments SET status = 'dropped', dropped_at = $2 WHERE id = $1`
	if _, err := l.tx.ExecContext(ctx, query, enrollmentID, at); err != nil {
		return fmt.Errorf("mark enrollment dropped: %w", err)
	}
	return nil
}

func (l *ledgerTx) MarkCompleted(ctx context.Context, enrollmentID, grade string, at time.Time) error {
	const query = `UPDATE enrollments SET status = 'completed', grade = $2, completed_at = $3 WHERE id = $1`
	if _, err := l.tx.ExecContext(ctx, query, enrollmentID, grade, at); err != nil {
		return fmt.Errorf("mark enrollment completed: %w", err)
	}
	return nil
}

func (l *ledgerTx) CountActive(ctx context.Context, courseID string) (int, error) {
	var n int
	if err := l.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'enrolled'`, courseID); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return n, nil
}

func (l *ledgerTx) SetEnrolled(ctx context.Context, courseID string, enrolled int) error {
	if _, err := l.tx.ExecContext(ctx, `UPDATE courses SET enrolled = $2, updated_at = NOW() WHERE id = $1`, courseID, enrolled); err != nil {
		return fmt.Errorf("set enrolled: %w", err)
	}
	return nil
}

func (l *ledgerTx) Commit() error {
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func (l *ledgerTx) Rollback() error {
	if err := l.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback ledger transaction: %w", err)
	}
	return nil
}
