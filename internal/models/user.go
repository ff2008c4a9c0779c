package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// User represents an application user stored in the users table.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FullName      string     `db:"full_name" json:"name"`
	Role          UserRole   `db:"role" json:"role"`
	StudentID     *string    `db:"student_id" json:"student_id,omitempty"`
	Major         *string    `db:"major" json:"major,omitempty"`
	Semester      *int       `db:"semester" json:"semester,omitempty"`
	GPA           *float64   `db:"gpa" json:"gpa,omitempty"`
	OTPHash       *string    `db:"otp_hash" json:"-"`
	OTPExpiresAt  *time.Time `db:"otp_expires_at" json:"-"`
	EmailVerified bool       `db:"email_verified" json:"email_verified"`
	Active        bool       `db:"active" json:"active"`
	LastLogin     *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
