package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/middleware"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type courseFileService interface {
	Upload(ctx context.Context, courseID, uploaderID string, header *multipart.FileHeader) (*models.Course, error)
	Delete(ctx context.Context, courseID, fileID string) error
	Open(token string) (*service.Download, error)
}

// FileHandler manages course attachments and signed downloads.
type FileHandler struct {
	files courseFileService
}

// NewFileHandler constructs FileHandler.
func NewFileHandler(files courseFileService) *FileHandler {
	return &FileHandler{files: files}
}

// Upload godoc
// @Summary Upload course file
// @Tags Courses
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param file formData file true "Attachment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /courses/{id}/upload [post]
func (h *FileHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "No file uploaded"))
		return
	}
	uploader := ""
	if claims := middleware.Claims(c); claims != nil {
		uploader = claims.UserID
	}

	course, err := h.files.Upload(c.Request.Context(), c.Param("id"), uploader, header)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Delete godoc
// @Summary Delete course file
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param fileId path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/files/{fileId} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), c.Param("id"), c.Param("fileId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "File deleted")
}

// Download godoc
// @Summary Download course file
// @Description Streams a file referenced by a signed token
// @Tags Courses
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	download, err := h.files.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	c.Header("Cache-Control", "private, max-age=0")
	c.DataFromReader(http.StatusOK, download.Size, download.ContentType, download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, download.Name),
	})
}
