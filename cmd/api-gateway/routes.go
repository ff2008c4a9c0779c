package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/handler"
	"github.com/noah-isme/course-registration-api/internal/middleware"
	"github.com/noah-isme/course-registration-api/internal/models"
)

type routeHandlers struct {
	auth        *handler.AuthHandler
	courses     *handler.CourseHandler
	files       *handler.FileHandler
	enrollments *handler.EnrollmentHandler
	tokens      middleware.TokenValidator
	logger      *zap.Logger
}

func registerRoutes(api *gin.RouterGroup, h routeHandlers) {
	authenticated := middleware.JWT(h.tokens)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(h.logger, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/register", h.auth.Register)
	auth.POST("/verify-otp", h.auth.VerifyOTP)
	auth.POST("/resend-otp", h.auth.ResendOTP)
	auth.POST("/login", h.auth.Login)
	auth.GET("/me", authenticated, h.auth.Me)

	courses := api.Group("/courses", authenticated)
	courses.GET("", h.courses.List)
	courses.GET("/:id", h.courses.Get)
	courses.POST("", adminOnly, audit("create", "course"), h.courses.Create)
	courses.PUT("/:id", adminOnly, audit("update", "course"), h.courses.Update)
	courses.DELETE("/:id", adminOnly, audit("delete", "course"), h.courses.Delete)
	courses.POST("/:id/upload", adminOnly, audit("upload", "course_file"), h.files.Upload)
	courses.DELETE("/:id/files/:fileId", adminOnly, audit("delete", "course_file"), h.files.Delete)

	// Signed links work anonymously; a bearer token, when sent, names the
	// downloader in the audit log.
	api.GET("/files/:token", middleware.OptionalJWT(h.tokens), audit("download", "course_file"), h.files.Download)

	enrollments := api.Group("/enrollments", authenticated)
	enrollments.POST("/enroll/:courseId", h.enrollments.Enroll)
	enrollments.DELETE("/drop/:courseId", h.enrollments.Drop)
	enrollments.GET("/my-courses", h.enrollments.MyCourses)
	enrollments.GET("/course/:courseId/students", adminOnly, h.enrollments.Roster)
	enrollments.GET("/course/:courseId/students/export", adminOnly, h.enrollments.ExportCSV)
	enrollments.GET("/course/:courseId/students/export.pdf", adminOnly, h.enrollments.ExportPDF)
	enrollments.PUT("/:id/complete", adminOnly, audit("complete", "enrollment"), h.enrollments.Complete)
	enrollments.POST("/reconcile", adminOnly, audit("reconcile", "enrollment"), h.enrollments.Reconcile)
}
