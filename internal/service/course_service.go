package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/dto"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) ([]models.CourseFile, error)
}

type courseFileLister interface {
	ListByCourses(ctx context.Context, courseIDs []string) (map[string][]models.CourseFile, error)
}

type objectURLResolver interface {
	ResolveURL(key, storedURL string) (string, error)
	Delete(ctx context.Context, key string) error
}

// CourseService manages the course catalog.
type CourseService struct {
	repo      courseRepository
	files     courseFileLister
	store     objectURLResolver
	cache     *CourseCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, files courseFileLister, store objectURLResolver, cache *CourseCache, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, files: files, store: store, cache: cache, validator: validate, logger: logger}
}

// List returns catalog entries matching the filter. Only admins may see
// inactive courses.
func (s *CourseService) List(ctx context.Context, query dto.ListCoursesQuery, isAdmin bool) ([]models.Course, error) {
	filter := query.Filter()
	filter.Department = strings.TrimSpace(filter.Department)
	filter.Search = strings.TrimSpace(filter.Search)
	if !isAdmin {
		filter.IncludeInactive = false
	}

	if cached, ok := s.cache.Lookup(ctx, filter); ok {
		return s.withURLs(cached), nil
	}

	courses, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if err := s.attachFiles(ctx, courses); err != nil {
		return nil, err
	}
	s.cache.Store(ctx, filter, courses)
	return s.withURLs(courses), nil
}

// Get returns a single course with its files.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid course id")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	courses := []models.Course{*course}
	if err := s.attachFiles(ctx, courses); err != nil {
		return nil, err
	}
	result := s.withURLs(courses)[0]
	return &result, nil
}

// Create adds a course. The enrolled counter always starts at zero.
func (s *CourseService) Create(ctx context.Context, req dto.CreateCourseRequest) (*models.Course, error) {
	req.Normalise()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	course := &models.Course{
		Code:          req.Code,
		Title:         req.Title,
		Description:   req.Description,
		Credits:       req.Credits,
		Department:    req.Department,
		Instructor:    req.Instructor,
		Schedule:      scheduleFromInput(req.Schedule),
		Prerequisites: normalisePrerequisites(req.Prerequisites),
		Semester:      req.Semester,
		Year:          req.Year,
		Capacity:      req.Capacity,
		Active:        active,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "Course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.cache.Invalidate(ctx, "course created")
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update patches course metadata. Capacity may not drop below the live
// enrolled count.
func (s *CourseService) Update(ctx context.Context, id string, req dto.UpdateCourseRequest) (*models.Course, error) {
	req.Normalise()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Code != nil {
		course.Code = *req.Code
	}
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Credits != nil {
		course.Credits = *req.Credits
	}
	if req.Department != nil {
		course.Department = *req.Department
	}
	if req.Instructor != nil {
		course.Instructor = *req.Instructor
	}
	if req.Schedule != nil {
		course.Schedule = scheduleFromInput(*req.Schedule)
	}
	if req.Prerequisites != nil {
		course.Prerequisites = normalisePrerequisites(req.Prerequisites)
	}
	if req.Semester != nil {
		course.Semester = *req.Semester
	}
	if req.Year != nil {
		course.Year = *req.Year
	}
	if req.Capacity != nil {
		course.Capacity = *req.Capacity
	}
	if req.Active != nil {
		course.Active = *req.Active
	}

	if err := s.repo.Update(ctx, course); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Course not found")
		case errors.Is(err, repository.ErrCapacityBelowEnrolled):
			return nil, appErrors.Clone(appErrors.ErrValidation, "capacity cannot be lower than the number of enrolled students")
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "Course code already exists")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
		}
	}
	s.cache.Invalidate(ctx, "course updated")
	return s.Get(ctx, id)
}

// Delete hard-deletes a course without active enrollments and removes the
// stored objects of its files.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid course id")
	}
	files, err := s.repo.Delete(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "Course not found")
		case errors.Is(err, repository.ErrHasActiveEnrollments):
			return appErrors.Clone(appErrors.ErrConflict, "course has active enrollments; drop or complete them first")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
		}
	}
	for _, file := range files {
		if s.store == nil {
			break
		}
		if err := s.store.Delete(ctx, file.StorageKey); err != nil {
			s.logger.Warn("failed to delete course file object", zap.String("course_id", id), zap.String("key", file.StorageKey), zap.Error(err))
		}
	}
	s.cache.Invalidate(ctx, "course deleted")
	s.logger.Info("course deleted", zap.String("course_id", id), zap.Int("files", len(files)))
	return nil
}

func (s *CourseService) attachFiles(ctx context.Context, courses []models.Course) error {
	if s.files == nil || len(courses) == 0 {
		return nil
	}
	ids := make([]string, len(courses))
	for i := range courses {
		ids[i] = courses[i].ID
	}
	byCourse, err := s.files.ListByCourses(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course files")
	}
	for i := range courses {
		courses[i].Files = byCourse[courses[i].ID]
	}
	return nil
}

// withURLs resolves client URLs after the cache so that short-lived signed
// links are never cached.
func (s *CourseService) withURLs(courses []models.Course) []models.Course {
	if s.store == nil {
		return courses
	}
	for i := range courses {
		files := make([]models.CourseFile, len(courses[i].Files))
		for j, f := range courses[i].Files {
			if url, err := s.store.ResolveURL(f.StorageKey, f.URL); err == nil {
				f.URL = url
			} else {
				s.logger.Warn("failed to resolve file url", zap.String("file_id", f.ID), zap.Error(err))
			}
			files[j] = f
		}
		courses[i].Files = files
	}
	return courses
}

func scheduleFromInput(in dto.ScheduleInput) models.CourseSchedule {
	days := in.Days
	if days == nil {
		days = []string{}
	}
	return models.CourseSchedule{Days: days, Time: strings.TrimSpace(in.Time), Room: strings.TrimSpace(in.Room)}
}

func normalisePrerequisites(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
