package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/storage"
)

type courseFileRepository interface {
	Create(ctx context.Context, file *models.CourseFile) error
	Find(ctx context.Context, courseID, fileID string) (*models.CourseFile, error)
	Delete(ctx context.Context, id string) error
}

type courseGetter interface {
	Get(ctx context.Context, id string) (*models.Course, error)
}

type signedOpener interface {
	OpenSigned(token string) (*os.File, string, error)
}

// CourseFileConfig limits what may be uploaded.
type CourseFileConfig struct {
	MaxSizeBytes int64
	AllowedMIMEs []string
	KeyPrefix    string
}

// Download is an opened attachment ready to be streamed.
type Download struct {
	File        *os.File
	Name        string
	ContentType string
	Size        int64
}

// CourseFileService manages course attachments.
type CourseFileService struct {
	repo    courseFileRepository
	courses courseGetter
	store   storage.ObjectStore
	cache   *CourseCache
	config  CourseFileConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewCourseFileService constructs CourseFileService.
func NewCourseFileService(repo courseFileRepository, courses courseGetter, store storage.ObjectStore, cache *CourseCache, cfg CourseFileConfig, logger *zap.Logger) *CourseFileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 10 * 1024 * 1024
	}
	return &CourseFileService{repo: repo, courses: courses, store: store, cache: cache, config: cfg, logger: logger, now: time.Now}
}

// Upload stores an attachment for courseID and returns the course with its files.
func (s *CourseFileService) Upload(ctx context.Context, courseID, uploaderID string, header *multipart.FileHeader) (*models.Course, error) {
	if header == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if _, err := s.courses.Get(ctx, courseID); err != nil {
		return nil, err
	}
	if header.Size > s.config.MaxSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", s.config.MaxSizeBytes))
	}

	src, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	defer src.Close()

	detected, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to detect file type")
	}
	if !s.allowed(detected) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", detected.String()))
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind upload")
	}

	contentType := detected.String()
	key := storage.BuildObjectKey(s.config.KeyPrefix, courseID, header.Filename, s.now())
	obj, err := s.store.Put(ctx, key, src, header.Size, contentType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	file := &models.CourseFile{
		CourseID:    courseID,
		Name:        path.Base(strings.ReplaceAll(header.Filename, "\\", "/")),
		URL:         obj.URL,
		Size:        obj.Size,
		StorageKey:  obj.Key,
		ContentType: contentType,
	}
	if uploaderID != "" {
		file.UploadedBy = &uploaderID
	}
	if err := s.repo.Create(ctx, file); err != nil {
		if delErr := s.store.Delete(ctx, obj.Key); delErr != nil {
			s.logger.Warn("failed to remove orphaned object", zap.String("key", obj.Key), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file")
	}

	s.cache.Invalidate(ctx, "file uploaded")
	s.logger.Info("course file uploaded",
		zap.String("course_id", courseID),
		zap.String("file_id", file.ID),
		zap.String("driver", s.store.Driver()),
		zap.Int64("size", file.Size),
	)
	return s.courses.Get(ctx, courseID)
}

// Delete removes the stored object and then the file row.
func (s *CourseFileService) Delete(ctx context.Context, courseID, fileID string) error {
	if _, err := uuid.Parse(courseID); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid course id")
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid file id")
	}
	file, err := s.repo.Find(ctx, courseID, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "File not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if err := s.store.Delete(ctx, file.StorageKey); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete stored file")
	}
	if err := s.repo.Delete(ctx, file.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file record")
	}
	s.cache.Invalidate(ctx, "file deleted")
	return nil
}

// Open resolves a signed download token. Only stores that serve files
// themselves support it.
func (s *CourseFileService) Open(token string) (*Download, error) {
	opener, ok := s.store.(signedOpener)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "File not found")
	}
	file, key, err := opener.OpenSigned(token)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "File not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file")
	}
	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectReader(file); err == nil {
		contentType = detected.String()
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind file")
	}
	return &Download{File: file, Name: path.Base(key), ContentType: contentType, Size: info.Size()}, nil
}

func (s *CourseFileService) allowed(detected *mimetype.MIME) bool {
	if len(s.config.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedMIMEs {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if strings.HasSuffix(allowed, "/*") {
			if strings.HasPrefix(detected.String(), strings.TrimSuffix(allowed, "*")) {
				return true
			}
			continue
		}
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}
