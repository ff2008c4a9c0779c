package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-registration-api/internal/models"
)

const courseFileColumns = `id, course_id, name, url, size, storage_key, content_type, uploaded_by, uploaded_at`

// CourseFileRepository stores attachment metadata.
type CourseFileRepository struct {
	db *sqlx.DB
}

// NewCourseFileRepository constructs the repository.
func NewCourseFileRepository(db *sqlx.DB) *CourseFileRepository {
	return &CourseFileRepository{db: db}
}

// ListByCourses returns the files of each given course keyed by course id.
func (r *CourseFileRepository) ListByCourses(ctx context.Context, courseIDs []string) (map[string][]models.CourseFile, error) {
	result := make(map[string][]models.CourseFile, len(courseIDs))
	if len(courseIDs) == 0 {
		return result, nil
	}
	query := `SELECT ` + courseFileColumns + ` FROM course_files WHERE course_id = ANY($1) ORDER BY uploaded_at ASC`
	var files []models.CourseFile
	if err := r.db.SelectContext(ctx, &files, query, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list course files: %w", err)
	}
	for _, f := range files {
		result[f.CourseID] = append(result[f.CourseID], f)
	}
	return result, nil
}

// Create records an uploaded file.
func (r *CourseFileRepository) Create(ctx context.Context, file *models.CourseFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_files (id, course_id, name, url, size, storage_key, content_type, uploaded_by, uploaded_at)
VALUES (:id, :course_id, :name, :url, :size, :storage_key, :content_type, :uploaded_by, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create course file: %w", err)
	}
	return nil
}

// Find returns a file belonging to courseID.
func (r *CourseFileRepository) Find(ctx context.Context, courseID, fileID string) (*models.CourseFile, error) {
	query := `SELECT ` + courseFileColumns + ` FROM course_files WHERE id = $1 AND course_id = $2`
	var file models.CourseFile
	if err := r.db.GetContext(ctx, &file, query, fileID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course file: %w", err)
	}
	return &file, nil
}

// Delete removes a file row.
func (r *CourseFileRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM course_files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete course file: %w", err)
	}
	return nil
}
