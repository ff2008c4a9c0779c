package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/dto"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/export"
)

const (
	csvContentType = "text/csv"
	pdfContentType = "application/pdf"
	csvTimeLayout  = "2006-01-02T15:04:05.000Z"
)

var rosterHeaders = []string{"Name", "Email", "Student ID", "Major", "Semester", "Enrolled At"}

type enrollmentRepository interface {
	BeginLedger(ctx context.Context) (repository.LedgerTx, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error)
	ListMyCourses(ctx context.Context, studentID string) ([]models.MyCourseEntry, error)
	ListDrift(ctx context.Context) ([]models.CourseDrift, error)
	CountCourses(ctx context.Context) (int, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService is the enrollment ledger. Every transition runs in one
// transaction holding the course row lock, which keeps the enrolled counter
// equal to the number of active rows and never above capacity.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseReader
	cache     *CourseCache
	metrics   *MetricsService
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, cache *CourseCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		courses:   courses,
		cache:     cache,
		metrics:   metrics,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		tracer:    otel.Tracer("github.com/noah-isme/course-registration-api/internal/service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enroll registers studentID in courseID. Checks run in order: course
// exists, course active, seat available, no active enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID string) (result *models.Enrollment, err error) {
	ctx, finish := s.begin(ctx, LedgerOpEnroll, attribute.String("course.id", courseID), attribute.String("student.id", studentID))
	defer func() { finish(err) }()

	if _, parseErr := uuid.Parse(courseID); parseErr != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
	}

	tx, err := s.repo.BeginLedger(ctx)
	if err != nil {
		return nil, s.storageFailure(err, "failed to begin enrollment")
	}
	defer s.rollback(tx)

	course, err := tx.LockCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
		}
		return nil, s.storageFailure(err, "failed to lock course")
	}
	if !course.Active {
		return nil, appErrors.ErrCourseInactive
	}
	if course.Enrolled >= course.Capacity {
		return nil, appErrors.ErrCourseFull
	}

	if _, err := tx.FindActive(ctx, studentID, courseID); err == nil {
		return nil, appErrors.ErrAlreadyEnrolled
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.storageFailure(err, "failed to check enrollment")
	}

	enrollment := &models.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: s.now(),
	}
	if err := tx.InsertEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, appErrors.ErrAlreadyEnrolled
		}
		return nil, s.storageFailure(err, "failed to record enrollment")
	}

	ok, err := tx.IncrementEnrolled(ctx, courseID)
	if err != nil {
		return nil, s.storageFailure(err, "failed to update course counter")
	}
	if !ok {
		return nil, appErrors.ErrCourseFull
	}

	if err := tx.Commit(); err != nil {
		return nil, s.storageFailure(err, "failed to commit enrollment")
	}

	s.cache.Invalidate(ctx, "enrollment created")
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", studentID),
		zap.String("course_id", courseID),
		zap.Int("enrolled", course.Enrolled+1),
		zap.Int("capacity", course.Capacity),
	)
	return enrollment, nil
}

// Drop ends the active enrollment of studentID in courseID. The row is kept
// as history.
func (s *EnrollmentService) Drop(ctx context.Context, studentID, courseID string) (err error) {
	ctx, finish := s.begin(ctx, LedgerOpDrop, attribute.String("course.id", courseID), attribute.String("student.id", studentID))
	defer func() { finish(err) }()

	if _, parseErr := uuid.Parse(courseID); parseErr != nil {
		return appErrors.ErrEnrollmentNotFound
	}

	tx, err := s.repo.BeginLedger(ctx)
	if err != nil {
		return s.storageFailure(err, "failed to begin drop")
	}
	defer s.rollback(tx)

	if _, err := tx.LockCourse(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrEnrollmentNotFound
		}
		return s.storageFailure(err, "failed to lock course")
	}

	active, err := tx.FindActive(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrEnrollmentNotFound
		}
		return s.storageFailure(err, "failed to load enrollment")
	}

	if err := tx.MarkDropped(ctx, active.ID, s.now()); err != nil {
		return s.storageFailure(err, "failed to drop enrollment")
	}
	if err := tx.DecrementEnrolled(ctx, courseID); err != nil {
		return s.storageFailure(err, "failed to update course counter")
	}
	if err := tx.Commit(); err != nil {
		return s.storageFailure(err, "failed to commit drop")
	}

	s.cache.Invalidate(ctx, "enrollment dropped")
	s.logger.Info("student dropped",
		zap.String("enrollment_id", active.ID),
		zap.String("student_id", studentID),
		zap.String("course_id", courseID),
	)
	return nil
}

// Complete closes an active enrollment with a final grade and frees its seat.
func (s *EnrollmentService) Complete(ctx context.Context, enrollmentID string, req dto.CompleteEnrollmentRequest) (result *models.Enrollment, err error) {
	ctx, finish := s.begin(ctx, LedgerOpComplete, attribute.String("enrollment.id", enrollmentID))
	defer func() { finish(err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade")
	}
	if _, parseErr := uuid.Parse(enrollmentID); parseErr != nil {
		return nil, appErrors.ErrEnrollmentNotFound
	}

	current, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, s.storageFailure(err, "failed to load enrollment")
	}

	tx, err := s.repo.BeginLedger(ctx)
	if err != nil {
		return nil, s.storageFailure(err, "failed to begin completion")
	}
	defer s.rollback(tx)

	if _, err := tx.LockCourse(ctx, current.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, s.storageFailure(err, "failed to lock course")
	}

	locked, err := tx.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, s.storageFailure(err, "failed to lock enrollment")
	}
	if locked.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.ErrEnrollmentNotFound
	}

	completedAt := s.now()
	if err := tx.MarkCompleted(ctx, locked.ID, req.Grade, completedAt); err != nil {
		return nil, s.storageFailure(err, "failed to complete enrollment")
	}
	if err := tx.DecrementEnrolled(ctx, locked.CourseID); err != nil {
		return nil, s.storageFailure(err, "failed to update course counter")
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storageFailure(err, "failed to commit completion")
	}

	grade := req.Grade
	locked.Status = models.EnrollmentStatusCompleted
	locked.Grade = &grade
	locked.CompletedAt = &completedAt

	s.cache.Invalidate(ctx, "enrollment completed")
	s.logger.Info("enrollment completed",
		zap.String("enrollment_id", locked.ID),
		zap.String("course_id", locked.CourseID),
		zap.String("grade", grade),
	)
	return locked, nil
}

// ListRoster returns the active students of a course in enrollment order.
func (s *EnrollmentService) ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return []models.RosterEntry{}, nil
	}
	roster, err := s.repo.ListRoster(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}
	return roster, nil
}

// ListMyCourses returns the caller's active enrollments with course summaries.
func (s *EnrollmentService) ListMyCourses(ctx context.Context, studentID string) ([]models.MyCourseEntry, error) {
	entries, err := s.repo.ListMyCourses(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled courses")
	}
	if entries == nil {
		entries = []models.MyCourseEntry{}
	}
	return entries, nil
}

// ExportRosterCSV renders the roster as a CSV attachment with every field quoted.
func (s *EnrollmentService) ExportRosterCSV(ctx context.Context, courseID string) (*dto.RosterExport, error) {
	course, dataset, err := s.rosterDataset(ctx, courseID)
	if err != nil {
		return nil, err
	}
	body, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster csv")
	}
	return &dto.RosterExport{
		Filename:    s.exportFilename(course, "csv"),
		ContentType: csvContentType,
		Body:        body,
	}, nil
}

// ExportRosterPDF renders the roster as a printable PDF.
func (s *EnrollmentService) ExportRosterPDF(ctx context.Context, courseID string) (*dto.RosterExport, error) {
	course, dataset, err := s.rosterDataset(ctx, courseID)
	if err != nil {
		return nil, err
	}
	title := "Enrolled Students"
	subtitle := ""
	if course != nil {
		title = fmt.Sprintf("Enrolled Students - %s", course.Code)
		subtitle = fmt.Sprintf("%s (%d/%d)", course.Title, course.Enrolled, course.Capacity)
	}
	body, err := s.pdf.Render(dataset, title, subtitle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster pdf")
	}
	return &dto.RosterExport{
		Filename:    s.exportFilename(course, "pdf"),
		ContentType: pdfContentType,
		Body:        body,
	}, nil
}

// Reconcile recomputes the enrolled counter of every drifted course from its
// active rows. Students are never evicted: a course found above capacity
// keeps its true count and is flagged.
func (s *EnrollmentService) Reconcile(ctx context.Context) (report *models.ReconcileReport, err error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.reconcile")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		corrections := 0
		if report != nil {
			corrections = len(report.Corrections)
		}
		s.metrics.RecordReconcile(corrections, err)
	}()

	report = &models.ReconcileReport{StartedAt: s.now(), Corrections: []models.ReconcileCorrection{}}

	checked, err := s.repo.CountCourses(ctx)
	if err != nil {
		return nil, s.storageFailure(err, "failed to count courses")
	}
	report.Checked = checked

	drift, err := s.repo.ListDrift(ctx)
	if err != nil {
		return nil, s.storageFailure(err, "failed to detect counter drift")
	}

	for _, candidate := range drift {
		correction, err := s.reconcileCourse(ctx, candidate.CourseID)
		if err != nil {
			return nil, err
		}
		if correction == nil {
			continue
		}
		report.Corrections = append(report.Corrections, *correction)
	}

	report.FinishedAt = s.now()
	span.SetAttributes(attribute.Int("reconcile.checked", report.Checked), attribute.Int("reconcile.corrections", len(report.Corrections)))
	if len(report.Corrections) > 0 {
		s.cache.Invalidate(ctx, "counters reconciled")
	}
	s.logger.Info("enrollment counters reconciled",
		zap.Int("checked", report.Checked),
		zap.Int("corrections", len(report.Corrections)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// reconcileCourse re-reads the counter under the course lock so that a
// concurrent enroll between ListDrift and here is not overwritten.
func (s *EnrollmentService) reconcileCourse(ctx context.Context, courseID string) (*models.ReconcileCorrection, error) {
	tx, err := s.repo.BeginLedger(ctx)
	if err != nil {
		return nil, s.storageFailure(err, "failed to begin reconciliation")
	}
	defer s.rollback(tx)

	course, err := tx.LockCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storageFailure(err, "failed to lock course")
	}
	actual, err := tx.CountActive(ctx, courseID)
	if err != nil {
		return nil, s.storageFailure(err, "failed to count active enrollments")
	}
	if actual == course.Enrolled {
		return nil, nil
	}
	if err := tx.SetEnrolled(ctx, courseID, actual); err != nil {
		return nil, s.storageFailure(err, "failed to correct course counter")
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storageFailure(err, "failed to commit reconciliation")
	}

	correction := &models.ReconcileCorrection{
		CourseID:     course.ID,
		Code:         course.Code,
		Previous:     course.Enrolled,
		Actual:       actual,
		OverCapacity: actual > course.Capacity,
	}
	fields := []zap.Field{
		zap.String("course_id", course.ID),
		zap.String("code", course.Code),
		zap.Int("previous", course.Enrolled),
		zap.Int("actual", actual),
		zap.Int("capacity", course.Capacity),
	}
	if correction.OverCapacity {
		s.logger.Error("course above capacity after reconciliation", fields...)
	} else {
		s.logger.Warn("enrolled counter corrected", fields...)
	}
	return correction, nil
}

func (s *EnrollmentService) rosterDataset(ctx context.Context, courseID string) (*models.Course, export.Dataset, error) {
	var course *models.Course
	if _, err := uuid.Parse(courseID); err != nil {
		return nil, export.Dataset{}, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
	}
	if s.courses != nil {
		found, err := s.courses.FindByID(ctx, courseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, export.Dataset{}, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
			}
			return nil, export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		course = found
	}

	roster, err := s.repo.ListRoster(ctx, courseID)
	if err != nil {
		return nil, export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}

	rows := make([]map[string]string, 0, len(roster))
	for _, entry := range roster {
		rows = append(rows, map[string]string{
			"Name":        entry.Name,
			"Email":       entry.Email,
			"Student ID":  derefString(entry.StudentID),
			"Major":       derefString(entry.Major),
			"Semester":    derefInt(entry.Semester),
			"Enrolled At": entry.EnrolledAt.UTC().Format(csvTimeLayout),
		})
	}
	return course, export.Dataset{Headers: rosterHeaders, Rows: rows}, nil
}

func (s *EnrollmentService) exportFilename(course *models.Course, ext string) string {
	code := "course"
	if course != nil && course.Code != "" {
		code = course.Code
	}
	return fmt.Sprintf("enrolled_%s_%d.%s", code, s.now().UnixMilli(), ext)
}

// begin opens a span for a ledger operation and returns a func recording its
// outcome in the span, the metrics and the log.
func (s *EnrollmentService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "enrollment."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			appErr := appErrors.FromError(err)
			result = appErr.Code
			if appErr.Status >= 500 {
				span.RecordError(err)
				span.SetStatus(codes.Error, appErr.Message)
				s.logger.Error("enrollment operation failed", zap.String("op", op), zap.String("code", appErr.Code), zap.Error(err))
			} else {
				s.logger.Debug("enrollment operation rejected", zap.String("op", op), zap.String("code", appErr.Code))
			}
		}
		span.SetAttributes(attribute.String("enrollment.result", result))
		span.End()
		s.metrics.ObserveLedgerOperation(op, result, time.Since(start))
	}
}

func (s *EnrollmentService) storageFailure(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, message)
}

func (s *EnrollmentService) rollback(tx repository.LedgerTx) {
	if err := tx.Rollback(); err != nil {
		s.logger.Warn("ledger rollback failed", zap.Error(err))
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
