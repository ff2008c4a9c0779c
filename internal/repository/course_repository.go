package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
)

const courseColumns = `id, code, title, description, credits, department, instructor, schedule, prerequisites, semester, year, capacity, enrolled, active, created_at, updated_at`

// CourseRepository persists catalog entries. It never writes the enrolled
// counter; that belongs to the ledger transaction.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching filter ordered by code.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + courseColumns + ` FROM courses WHERE 1=1`)
	var args []interface{}

	if !filter.IncludeInactive {
		query.WriteString(" AND active = TRUE")
	}
	if dept := strings.TrimSpace(filter.Department); dept != "" && dept != models.AllDepartments {
		args = append(args, dept)
		fmt.Fprintf(&query, " AND department = $%d", len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		fmt.Fprintf(&query, " AND (title ILIKE $%[1]d OR code ILIKE $%[1]d OR description ILIKE $%[1]d)", len(args))
	}
	query.WriteString(" ORDER BY code ASC")

	courses := []models.Course{}
	if err := r.db.SelectContext(ctx, &courses, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts a course with a zero enrolled counter. A taken code yields
// ErrDuplicate.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt, course.UpdatedAt = now, now
	course.Enrolled = 0

	const query = `INSERT INTO courses (id, code, title, description, credits, department, instructor, schedule, prerequisites, semester, year, capacity, active, created_at, updated_at)
VALUES (:id, :code, :title, :description, :credits, :department, :instructor, :schedule, :prerequisites, :semester, :year, :capacity, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update writes the mutable metadata. The capacity guard is evaluated
// against the live counter, so a concurrent enroll cannot slip past it.
// A missing row returns sql.ErrNoRows.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, title = :title, description = :description, credits = :credits,
department = :department, instructor = :instructor, schedule = :schedule, prerequisites = :prerequisites,
semester = :semester, year = :year, capacity = :capacity, active = :active, updated_at = :updated_at
WHERE id = :id AND enrolled <= :capacity`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course rows: %w", err)
	}
	if affected == 0 {
		// Either the guard failed or the row is gone.
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)`, course.ID); err != nil {
			return fmt.Errorf("check course exists: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrCapacityBelowEnrolled
	}
	return nil
}

// Delete hard-deletes a course without active enrollments. Historical
// enrollments and file rows cascade; the removed file rows are returned so
// their objects can be cleaned up.
func (r *CourseRepository) Delete(ctx context.Context, id string) (files []models.CourseFile, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin course delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}

	var active int
	if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'enrolled'`, id); err != nil {
		return nil, fmt.Errorf("count active enrollments: %w", err)
	}
	if active > 0 {
		err = ErrHasActiveEnrollments
		return nil, err
	}

	files = []models.CourseFile{}
	if err = tx.SelectContext(ctx, &files, `SELECT `+courseFileColumns+` FROM course_files WHERE course_id = $1`, id); err != nil {
		return nil, fmt.Errorf("list course files: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete course: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit course delete: %w", err)
	}
	return files, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
