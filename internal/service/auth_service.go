package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/mail"
)

const otpDigits = 6

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	StudentIDTaken(ctx context.Context, studentID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error
	MarkVerified(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	OTPTTL            time.Duration
	AllowAdminSignup  bool
	// MailTimeout caps how long a request waits to hand the OTP mail over.
	MailTimeout time.Duration
}

// AuthService provides authentication use cases.
type AuthService struct {
	repo      authUserRepository
	mailer    mail.Mailer
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, mailer mail.Mailer, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = 3 * time.Second
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	return &AuthService{repo: repo, mailer: mailer, validator: validate, logger: logger, config: config, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates an account. Students stay unverified until they confirm
// the emailed code; admins are verified immediately and receive a token.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.Major = strings.TrimSpace(req.Major)
	req.Role = models.UserRole(strings.ToUpper(string(req.Role)))
	if req.Role == "" {
		req.Role = models.RoleStudent
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if req.Role == models.RoleAdmin && !s.config.AllowAdminSignup {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admin registration is disabled")
	}
	if req.Role == models.RoleStudent && (req.StudentID == "" || req.Major == "" || req.Semester == 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Student ID, major, and semester are required")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "Email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	if req.Role == models.RoleStudent {
		taken, err := s.repo.StudentIDTaken(ctx, req.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student id")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "Student ID already exists")
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		FullName:     req.Name,
		Role:         req.Role,
		Active:       true,
	}

	if req.Role == models.RoleAdmin {
		user.EmailVerified = true
		if err := s.createUser(ctx, user); err != nil {
			return nil, err
		}
		auth, err := s.issue(user)
		if err != nil {
			return nil, err
		}
		s.logger.Info("admin registered", zap.String("user_id", user.ID))
		return &models.RegisterResponse{
			Message: "Admin account created successfully",
			User:    models.NewUserInfo(user),
			Auth:    auth,
		}, nil
	}

	user.StudentID = &req.StudentID
	user.Major = &req.Major
	semester := req.Semester
	user.Semester = &semester

	code, hash, expiresAt, err := s.newOTP()
	if err != nil {
		return nil, err
	}
	user.OTPHash = &hash
	user.OTPExpiresAt = &expiresAt

	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}
	s.sendOTP(ctx, user, code)

	return &models.RegisterResponse{
		Message:              "OTP sent to your email. Please verify to complete registration.",
		RequiresVerification: true,
		User:                 models.NewUserInfo(user),
	}, nil
}

// VerifyOTP confirms a pending account and signs the user in.
func (s *AuthService) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	user, err := s.pendingUser(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user.OTPHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.OTPHash), []byte(req.OTP)) != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Invalid OTP")
	}
	if user.OTPExpiresAt == nil || s.now().After(*user.OTPExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "OTP expired. Please request a new one.")
	}

	if err := s.repo.MarkVerified(ctx, user.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify account")
	}
	user.EmailVerified = true
	user.OTPHash, user.OTPExpiresAt = nil, nil

	return s.issue(user)
}

// ResendOTP replaces the pending code and mails it again.
func (s *AuthService) ResendOTP(ctx context.Context, req models.ResendOTPRequest) error {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resend payload")
	}

	user, err := s.pendingUser(ctx, req.Email)
	if err != nil {
		return err
	}

	code, hash, expiresAt, err := s.newOTP()
	if err != nil {
		return err
	}
	if err := s.repo.SetOTP(ctx, user.ID, hash, expiresAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store otp")
	}
	s.sendOTP(ctx, user, code)
	return nil
}

// Login authenticates a user and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "Invalid credentials")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "Invalid credentials")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if user.Role == models.RoleStudent && !user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrNotVerified, "Please verify your email first")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.logger.Debug("user logged in", zap.String("user_id", user.ID), zap.String("ip", req.IP))
	return s.issue(user)
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) pendingUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "User not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Email already verified")
	}
	return user, nil
}

func (s *AuthService) createUser(ctx context.Context, user *models.User) error {
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return appErrors.Clone(appErrors.ErrConflict, "Email or Student ID already exists")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	return nil
}

func (s *AuthService) newOTP() (code, hash string, expiresAt time.Time, err error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate otp")
	}
	code = fmt.Sprintf("%0*d", otpDigits, n.Int64())
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash otp")
	}
	return code, string(hashed), s.now().Add(s.config.OTPTTL), nil
}

// sendOTP never fails the request: the account exists and the user can ask
// for another code.
func (s *AuthService) sendOTP(ctx context.Context, user *models.User, code string) {
	msg, err := mail.OTPMessage(user.FullName, user.Email, code, s.config.OTPTTL)
	if err != nil {
		s.logger.Error("failed to render otp email", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.MailTimeout)
	defer cancel()
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send otp email", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AuthService) issue(user *models.User) (*models.AuthResponse, error) {
	token, issuedAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &models.AuthResponse{
		Token:     token,
		ExpiresIn: int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:  issuedAt,
		User:      models.NewUserInfo(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}
