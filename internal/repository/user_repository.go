package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, student_id, major, semester, gpa, otp_hash, otp_expires_at, email_verified, active, last_login, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, strings.ToLower(strings.TrimSpace(email))); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// StudentIDTaken reports whether a student number is already registered.
func (r *UserRepository) StudentIDTaken(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE student_id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID); err != nil {
		return false, fmt.Errorf("check student id: %w", err)
	}
	return exists, nil
}

// Create inserts a new user. A taken email or student id yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, student_id, major, semester, gpa, otp_hash, otp_expires_at, email_verified, active, created_at, updated_at)
VALUES (:id, :email, :password_hash, :full_name, :role, :student_id, :major, :semester, :gpa, :otp_hash, :otp_expires_at, :email_verified, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetOTP stores a hashed verification code and its expiry.
func (r *UserRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	const query = `UPDATE users SET otp_hash = $2, otp_expires_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, otpHash, expiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	return nil
}

// MarkVerified flags the email as verified and clears the pending code.
func (r *UserRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, otp_hash = NULL, otp_expires_at = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
