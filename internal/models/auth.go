package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest creates a new account. Students must also supply their
// academic profile.
type RegisterRequest struct {
	Name      string   `json:"name" validate:"required,max=120"`
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=6"`
	Role      UserRole `json:"role" validate:"omitempty,oneof=STUDENT ADMIN"`
	StudentID string   `json:"student_id" validate:"omitempty,max=40"`
	Major     string   `json:"major" validate:"omitempty,max=120"`
	Semester  int      `json:"semester" validate:"omitempty,min=1,max=8"`
}

// VerifyOTPRequest confirms a pending student account.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// ResendOTPRequest asks for a fresh verification code.
type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// AuthResponse returns an access token together with the user profile.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
	User      UserInfo  `json:"user"`
}

// RegisterResponse is returned after sign-up. Token is only set for accounts
// that need no verification.
type RegisterResponse struct {
	Message              string        `json:"message"`
	RequiresVerification bool          `json:"requires_verification"`
	User                 UserInfo      `json:"user"`
	Auth                 *AuthResponse `json:"auth,omitempty"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	FullName      string   `json:"name"`
	Role          UserRole `json:"role"`
	StudentID     *string  `json:"student_id,omitempty"`
	Major         *string  `json:"major,omitempty"`
	Semester      *int     `json:"semester,omitempty"`
	GPA           *float64 `json:"gpa,omitempty"`
	EmailVerified bool     `json:"email_verified"`
}

// NewUserInfo projects the public profile of a user.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		Role:          u.Role,
		StudentID:     u.StudentID,
		Major:         u.Major,
		Semester:      u.Semester,
		GPA:           u.GPA,
		EmailVerified: u.EmailVerified,
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
