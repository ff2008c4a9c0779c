package dto

import (
	"strings"

	"github.com/noah-isme/course-registration-api/internal/models"
)

// ScheduleInput describes when and where a course meets.
type ScheduleInput struct {
	Days []string `json:"days" validate:"omitempty,dive,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	Time string   `json:"time" validate:"omitempty,max=40"`
	Room string   `json:"room" validate:"omitempty,max=40"`
}

// CreateCourseRequest is the admin payload for a new course. Enrolled is
// intentionally absent.
type CreateCourseRequest struct {
	Code          string        `json:"code" validate:"required,max=20"`
	Title         string        `json:"title" validate:"required,max=200"`
	Description   string        `json:"description" validate:"required"`
	Credits       int           `json:"credits" validate:"required,min=1,max=4"`
	Department    string        `json:"department" validate:"required,max=120"`
	Instructor    string        `json:"instructor" validate:"required,max=120"`
	Schedule      ScheduleInput `json:"schedule"`
	Prerequisites []string      `json:"prerequisites" validate:"omitempty,dive,max=20"`
	Semester      string        `json:"semester" validate:"required,oneof=Even Odd"`
	Year          int           `json:"year" validate:"required,min=2000,max=2100"`
	Capacity      int           `json:"capacity" validate:"required,min=1"`
	Active        *bool         `json:"is_active"`
}

// UpdateCourseRequest patches a course. Nil fields are left untouched.
type UpdateCourseRequest struct {
	Code          *string        `json:"code" validate:"omitnil,min=1,max=20"`
	Title         *string        `json:"title" validate:"omitnil,min=1,max=200"`
	Description   *string        `json:"description"`
	Credits       *int           `json:"credits" validate:"omitempty,min=1,max=4"`
	Department    *string        `json:"department" validate:"omitnil,min=1,max=120"`
	Instructor    *string        `json:"instructor" validate:"omitnil,min=1,max=120"`
	Schedule      *ScheduleInput `json:"schedule"`
	Prerequisites []string       `json:"prerequisites" validate:"omitempty,dive,max=20"`
	Semester      *string        `json:"semester" validate:"omitempty,oneof=Even Odd"`
	Year          *int           `json:"year" validate:"omitempty,min=2000,max=2100"`
	Capacity      *int           `json:"capacity" validate:"omitempty,min=1"`
	Active        *bool          `json:"is_active"`
}

// Normalise trims text fields and upper-cases the code so blank values fail
// validation.
func (r *CreateCourseRequest) Normalise() {
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Department = strings.TrimSpace(r.Department)
	r.Instructor = strings.TrimSpace(r.Instructor)
}

// Normalise trims the provided text fields and upper-cases the code.
func (r *UpdateCourseRequest) Normalise() {
	if r.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*r.Code))
		r.Code = &code
	}
	r.Title = trimmed(r.Title)
	r.Description = trimmed(r.Description)
	r.Department = trimmed(r.Department)
	r.Instructor = trimmed(r.Instructor)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// ListCoursesQuery captures catalog query parameters.
type ListCoursesQuery struct {
	Department      string `form:"department"`
	Search          string `form:"search"`
	IncludeInactive bool   `form:"includeInactive"`
}

// Filter converts the query into a repository filter.
func (q ListCoursesQuery) Filter() models.CourseFilter {
	return models.CourseFilter{
		Department:      q.Department,
		Search:          q.Search,
		IncludeInactive: q.IncludeInactive,
	}
}
