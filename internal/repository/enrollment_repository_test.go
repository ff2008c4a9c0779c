package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/internal/models"
)

func TestLedgerEnrollFlow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + courseColumns + " FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(courseRow(sqlmock.NewRows(courseColumnNames), "c1", "CS101", 2, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments (id, student_id, course_id, status, enrolled_at) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(sqlmock.AnyArg(), "s1", "c1", models.EnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET enrolled = enrolled + 1, updated_at = NOW() WHERE id = $1 AND enrolled < capacity")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginLedger(ctx)
	require.NoError(t, err)
	course, err := tx.LockCourse(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, course.Enrolled)

	enrollment := &models.Enrollment{StudentID: "s1", CourseID: "c1"}
	require.NoError(t, tx.InsertEnrollment(ctx, enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)

	ok, err := tx.IncrementEnrolled(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerIncrementAtCapacity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SET enrolled = enrolled \\+ 1").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := repo.BeginLedger(ctx)
	require.NoError(t, err)
	ok, err := tx.IncrementEnrolled(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerInsertDuplicateActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_enrollments_active"})
	mock.ExpectRollback()

	tx, err := repo.BeginLedger(ctx)
	require.NoError(t, err)
	err = tx.InsertEnrollment(ctx, &models.Enrollment{StudentID: "s1", CourseID: "c1"})
	assert.ErrorIs(t, err, ErrDuplicateActive)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerDropFlow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = 'enrolled' FOR UPDATE")).
		WithArgs("s1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "grade", "enrolled_at", "dropped_at", "completed_at"}).
			AddRow("e1", "s1", "c1", "enrolled", nil, now, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = 'dropped', dropped_at = $2 WHERE id = $1")).
		WithArgs("e1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(enrolled - 1, 0)")).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginLedger(ctx)
	require.NoError(t, err)
	active, err := tx.FindActive(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "e1", active.ID)
	require.NoError(t, tx.MarkDropped(ctx, active.ID, now))
	require.NoError(t, tx.DecrementEnrolled(ctx, "c1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerFindActiveMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("s1", "c1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := repo.BeginLedger(ctx)
	require.NoError(t, err)
	_, err = tx.FindActive(ctx, "s1", "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, tx.Rollback())
}

func TestListRosterOrdersByEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	first := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"enrollment_id", "user_id", "name", "email", "student_id", "major", "semester", "enrolled_at"}).
		AddRow("e1", "u1", "Ada", "ada@example.com", "S-1", "CS", 3, first).
		AddRow("e2", "u2", "Bob", "bob@example.com", nil, nil, nil, first.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY e.enrolled_at ASC, e.id ASC")).WithArgs("c1").WillReturnRows(rows)

	roster, err := repo.ListRoster(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Ada", roster[0].Name)
	assert.Nil(t, roster[1].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMyCoursesMapsCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "grade", "enrolled_at", "dropped_at", "completed_at",
		"course_code", "course_title", "course_department", "course_credits", "course_capacity", "course_enrolled", "course_active"}).
		AddRow("e1", "s1", "c1", "enrolled", nil, now, nil, nil, "CS101", "Intro", "Computer Science", 3, 30, 5, true)
	mock.ExpectQuery("JOIN courses c ON c.id = e.course_id").WithArgs("s1").WillReturnRows(rows)

	entries, err := repo.ListMyCourses(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].Course.ID)
	assert.Equal(t, "CS101", entries[0].Course.Code)
	assert.Equal(t, 5, entries[0].Course.Enrolled)
}

func TestListDrift(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.enrolled <> COALESCE(a.actual, 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "enrolled", "actual"}).AddRow("c1", "CS101", 4, 3))

	drift, err := repo.ListDrift(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, models.CourseDrift{CourseID: "c1", Code: "CS101", Enrolled: 4, Actual: 3}, drift[0])
}
