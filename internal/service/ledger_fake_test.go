package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
)

// fakeLedger is an in-memory enrollment store whose transactions take a
// per-course mutex, mirroring the row lock taken by the PostgreSQL ledger.
type fakeLedger struct {
	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	courses     map[string]*models.Course
	enrollments map[string]*models.Enrollment
	students    map[string]models.RosterEntry
	seq         int

	beginErr  error
	commitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		locks:       map[string]*sync.Mutex{},
		courses:     map[string]*models.Course{},
		enrollments: map[string]*models.Enrollment{},
		students:    map[string]models.RosterEntry{},
	}
}

func (f *fakeLedger) addCourse(code string, capacity int, active bool) *models.Course {
	f.mu.Lock()
	defer f.mu.Unlock()
	course := &models.Course{ID: uuid.NewString(), Code: code, Title: code + " title", Capacity: capacity, Active: active}
	f.courses[course.ID] = course
	return course
}

func (f *fakeLedger) addStudent(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	sid := "S-" + name
	major := "CS"
	semester := 1
	f.students[id] = models.RosterEntry{UserID: id, Name: name, Email: name + "@example.com", StudentID: &sid, Major: &major, Semester: &semester}
	return id
}

func (f *fakeLedger) course(id string) models.Course {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.courses[id]
}

func (f *fakeLedger) setEnrolled(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.courses[id].Enrolled = n
}

func (f *fakeLedger) activeCount(courseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusEnrolled {
			n++
		}
	}
	return n
}

func (f *fakeLedger) activeFor(studentID, courseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Status == models.EnrollmentStatusEnrolled {
			n++
		}
	}
	return n
}

func (f *fakeLedger) lockFor(courseID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[courseID] = l
	}
	return l
}

func (f *fakeLedger) BeginLedger(ctx context.Context) (repository.LedgerTx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{store: f}, nil
}

func (f *fakeLedger) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *e
	return &copied, nil
}

func (f *fakeLedger) ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*models.Enrollment
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusEnrolled {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].EnrolledAt.Equal(active[j].EnrolledAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].EnrolledAt.Before(active[j].EnrolledAt)
	})
	roster := make([]models.RosterEntry, 0, len(active))
	for _, e := range active {
		entry := f.students[e.StudentID]
		entry.EnrollmentID = e.ID
		entry.EnrolledAt = e.EnrolledAt
		roster = append(roster, entry)
	}
	return roster, nil
}

func (f *fakeLedger) ListMyCourses(ctx context.Context, studentID string) ([]models.MyCourseEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []models.MyCourseEntry
	for _, e := range f.enrollments {
		if e.StudentID != studentID || e.Status != models.EnrollmentStatusEnrolled {
			continue
		}
		c := f.courses[e.CourseID]
		entries = append(entries, models.MyCourseEntry{
			Enrollment: *e,
			Course:     models.CourseSummary{ID: c.ID, Code: c.Code, Capacity: c.Capacity, Enrolled: c.Enrolled, Active: c.Active},
		})
	}
	return entries, nil
}

func (f *fakeLedger) ListDrift(ctx context.Context) ([]models.CourseDrift, error) {
	f.mu.Lock()
	counts := map[string]int{}
	for _, e := range f.enrollments {
		if e.Status == models.EnrollmentStatusEnrolled {
			counts[e.CourseID]++
		}
	}
	var drift []models.CourseDrift
	for _, c := range f.courses {
		if c.Enrolled != counts[c.ID] {
			drift = append(drift, models.CourseDrift{CourseID: c.ID, Code: c.Code, Enrolled: c.Enrolled, Actual: counts[c.ID]})
		}
	}
	f.mu.Unlock()
	sort.Slice(drift, func(i, j int) bool { return drift[i].Code < drift[j].Code })
	return drift, nil
}

func (f *fakeLedger) CountCourses(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.courses), nil
}

// fakeCourses adapts the ledger store to the course reader used by exports.
type fakeCourses struct{ store *fakeLedger }

func (c fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	course, ok := c.store.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

type fakeTx struct {
	store  *fakeLedger
	locked []*sync.Mutex
	undo   []func()
	done   bool
}

func (t *fakeTx) LockCourse(ctx context.Context, courseID string) (*models.Course, error) {
	l := t.store.lockFor(courseID)
	l.Lock()
	t.locked = append(t.locked, l)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	course, ok := t.store.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (t *fakeTx) FindActive(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, e := range t.store.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Status == models.EnrollmentStatusEnrolled {
			copied := *e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *fakeTx) FindByID(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return t.store.FindByID(ctx, enrollmentID)
}

func (t *fakeTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, e := range t.store.enrollments {
		if e.StudentID == enrollment.StudentID && e.CourseID == enrollment.CourseID && e.Status == models.EnrollmentStatusEnrolled {
			return repository.ErrDuplicateActive
		}
	}
	t.store.seq++
	enrollment.ID = uuid.NewString()
	enrollment.Status = models.EnrollmentStatusEnrolled
	enrollment.EnrolledAt = enrollment.EnrolledAt.Add(time.Duration(t.store.seq))
	copied := *enrollment
	t.store.enrollments[enrollment.ID] = &copied
	id := enrollment.ID
	t.undo = append(t.undo, func() { delete(t.store.enrollments, id) })
	return nil
}

func (t *fakeTx) IncrementEnrolled(ctx context.Context, courseID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c := t.store.courses[courseID]
	if c.Enrolled >= c.Capacity {
		return false, nil
	}
	c.Enrolled++
	t.undo = append(t.undo, func() { c.Enrolled-- })
	return true, nil
}

func (t *fakeTx) DecrementEnrolled(ctx context.Context, courseID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c := t.store.courses[courseID]
	if c.Enrolled > 0 {
		c.Enrolled--
		t.undo = append(t.undo, func() { c.Enrolled++ })
	}
	return nil
}

func (t *fakeTx) MarkDropped(ctx context.Context, enrollmentID string, at time.Time) error {
	return t.setStatus(enrollmentID, func(e *models.Enrollment) {
		e.Status = models.EnrollmentStatusDropped
		e.DroppedAt = &at
	})
}

func (t *fakeTx) MarkCompleted(ctx context.Context, enrollmentID, grade string, at time.Time) error {
	return t.setStatus(enrollmentID, func(e *models.Enrollment) {
		e.Status = models.EnrollmentStatusCompleted
		e.Grade = &grade
		e.CompletedAt = &at
	})
}

func (t *fakeTx) setStatus(enrollmentID string, apply func(*models.Enrollment)) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	e, ok := t.store.enrollments[enrollmentID]
	if !ok {
		return errors.New("enrollment vanished")
	}
	before := *e
	apply(e)
	t.undo = append(t.undo, func() { *e = before })
	return nil
}

func (t *fakeTx) CountActive(ctx context.Context, courseID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n := 0
	for _, e := range t.store.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusEnrolled {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) SetEnrolled(ctx context.Context, courseID string, enrolled int) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c := t.store.courses[courseID]
	before := c.Enrolled
	c.Enrolled = enrolled
	t.undo = append(t.undo, func() { c.Enrolled = before })
	return nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.finish()
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *fakeTx) finish() {
	t.done = true
	t.undo = nil
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}
