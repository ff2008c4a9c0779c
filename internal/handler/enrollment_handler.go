package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/dto"
	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Drop(ctx context.Context, studentID, courseID string) error
	Complete(ctx context.Context, enrollmentID string, req dto.CompleteEnrollmentRequest) (*models.Enrollment, error)
	ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error)
	ListMyCourses(ctx context.Context, studentID string) ([]models.MyCourseEntry, error)
	ExportRosterCSV(ctx context.Context, courseID string) (*dto.RosterExport, error)
	ExportRosterPDF(ctx context.Context, courseID string) (*dto.RosterExport, error)
	Reconcile(ctx context.Context) (*models.ReconcileReport, error)
}

// EnrollmentHandler exposes the enrollment ledger.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll in course
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/enroll/{courseId} [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), claims.UserID, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Drop godoc
// @Summary Drop course
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/drop/{courseId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.enrollments.Drop(c.Request.Context(), claims.UserID, c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Dropped successfully")
}

// Complete godoc
// @Summary Complete enrollment
// @Description Records a final grade and frees the seat
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param payload body dto.CompleteEnrollmentRequest true "Grade"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/complete [put]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	var req dto.CompleteEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid completion payload"))
		return
	}
	enrollment, err := h.enrollments.Complete(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// MyCourses godoc
// @Summary List my active enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /enrollments/my-courses [get]
func (h *EnrollmentHandler) MyCourses(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	entries, err := h.enrollments.ListMyCourses(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Roster godoc
// @Summary List enrolled students
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/course/{courseId}/students [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	roster, err := h.enrollments.ListRoster(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// ExportCSV godoc
// @Summary Export roster as CSV
// @Tags Enrollments
// @Produce text/csv
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /enrollments/course/{courseId}/students/export [get]
func (h *EnrollmentHandler) ExportCSV(c *gin.Context) {
	h.export(c, h.enrollments.ExportRosterCSV)
}

// ExportPDF godoc
// @Summary Export roster as PDF
// @Tags Enrollments
// @Produce application/pdf
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /enrollments/course/{courseId}/students/export.pdf [get]
func (h *EnrollmentHandler) ExportPDF(c *gin.Context) {
	h.export(c, h.enrollments.ExportRosterPDF)
}

// Reconcile godoc
// @Summary Reconcile enrolled counters
// @Description Recounts active enrollments and repairs drifted course counters
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /enrollments/reconcile [post]
func (h *EnrollmentHandler) Reconcile(c *gin.Context) {
	report, err := h.enrollments.Reconcile(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

func (h *EnrollmentHandler) export(c *gin.Context, render func(context.Context, string) (*dto.RosterExport, error)) {
	file, err := render(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
