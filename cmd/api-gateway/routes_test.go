package main

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/handler"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

type staticTokens map[string]*models.JWTClaims

func (s staticTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

type expiredLinks struct{ opened []string }

func (e *expiredLinks) Upload(ctx context.Context, courseID, uploaderID string, header *multipart.FileHeader) (*models.Course, error) {
	return nil, errors.New("not used")
}

func (e *expiredLinks) Delete(ctx context.Context, courseID, fileID string) error {
	return errors.New("not used")
}

func (e *expiredLinks) Open(token string) (*service.Download, error) {
	e.opened = append(e.opened, token)
	return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
}

func newTestRouter() *gin.Engine {
	return newTestRouterWithFiles(&expiredLinks{})
}

func newTestRouterWithFiles(files *expiredLinks) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r.Group("/api"), routeHandlers{
		auth:        handler.NewAuthHandler(nil),
		courses:     handler.NewCourseHandler(nil),
		files:       handler.NewFileHandler(files),
		enrollments: handler.NewEnrollmentHandler(nil),
		tokens:      staticTokens{"student": {UserID: "s", Role: models.RoleStudent}},
		logger:      zap.NewNop(),
	})
	return r
}

func TestRegisterRoutesTable(t *testing.T) {
	registered := map[string]bool{}
	for _, route := range newTestRouter().Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"POST /api/auth/register",
		"POST /api/auth/verify-otp",
		"POST /api/auth/resend-otp",
		"POST /api/auth/login",
		"GET /api/auth/me",
		"GET /api/courses",
		"GET /api/courses/:id",
		"POST /api/courses",
		"PUT /api/courses/:id",
		"DELETE /api/courses/:id",
		"POST /api/courses/:id/upload",
		"DELETE /api/courses/:id/files/:fileId",
		"GET /api/files/:token",
		"POST /api/enrollments/enroll/:courseId",
		"DELETE /api/enrollments/drop/:courseId",
		"GET /api/enrollments/my-courses",
		"GET /api/enrollments/course/:courseId/students",
		"GET /api/enrollments/course/:courseId/students/export",
		"GET /api/enrollments/course/:courseId/students/export.pdf",
		"PUT /api/enrollments/:id/complete",
		"POST /api/enrollments/reconcile",
	} {
		assert.True(t, registered[want], want)
	}
}

func TestAdminRoutesRejectStudents(t *testing.T) {
	r := newTestRouter()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/enrollments/course/c-1/students"},
		{http.MethodGet, "/api/enrollments/course/c-1/students/export"},
		{http.MethodPost, "/api/enrollments/reconcile"},
		{http.MethodPost, "/api/courses"},
		{http.MethodDelete, "/api/courses/c-1"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", "Bearer student")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, tc.path)

		req = httptest.NewRequest(tc.method, tc.path, nil)
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}
}

func TestDownloadRouteAcceptsAnonymousAndBearer(t *testing.T) {
	files := &expiredLinks{}
	r := newTestRouterWithFiles(files)

	for _, token := range []string{"", "student", "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/files/abc", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, "token %q", token)
	}
	assert.Equal(t, []string{"abc", "abc", "abc"}, files.opened)
}
