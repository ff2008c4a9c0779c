package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers supported for course file attachments.
const (
	StorageDriverLocal      = "local"
	StorageDriverOSS        = "oss"
	StorageDriverCloudinary = "cloudinary"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Auth      AuthConfig
	Mail      MailConfig
	Files     FilesConfig
	Cache     CacheConfig
	Reconcile ReconcileConfig
	Tracing   TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	KeyPrefix   string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig controls registration and OTP verification.
type AuthConfig struct {
	OTPTTL           time.Duration
	AllowAdminSignup bool
}

// MailConfig selects how OTP emails leave the service.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
	QueueWorkers   int
	QueueRetries   int
}

// FilesConfig configures course attachment storage.
type FilesConfig struct {
	Driver           string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string

	LocalDir        string
	SignedURLSecret string
	SignedURLTTL    time.Duration

	OSSEndpoint   string
	OSSAccessKey  string
	OSSSecretKey  string
	OSSBucket     string
	OSSPrefix     string
	OSSPublicBase string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// CacheConfig governs Redis caching of catalog reads.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// ReconcileConfig schedules the enrolled-counter reconciliation job.
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	Timeout  time.Duration
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
		KeyPrefix:   v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 30*24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Auth = AuthConfig{
		OTPTTL:           parseDuration(v.GetString("OTP_TTL"), 10*time.Minute),
		AllowAdminSignup: v.GetBool("ALLOW_ADMIN_SIGNUP"),
	}

	cfg.Mail = MailConfig{
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromAddress:    v.GetString("MAIL_FROM_ADDRESS"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		QueueWorkers:   v.GetInt("MAIL_QUEUE_WORKERS"),
		QueueRetries:   v.GetInt("MAIL_QUEUE_RETRIES"),
	}

	maxFileSize := v.GetInt64("FILES_MAX_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	cfg.Files = FilesConfig{
		Driver:              strings.ToLower(v.GetString("FILES_DRIVER")),
		MaxFileSizeBytes:    maxFileSize,
		AllowedMIMEs:        splitAndTrim(v.GetString("FILES_ALLOWED_MIME_TYPES")),
		LocalDir:            v.GetString("FILES_LOCAL_DIR"),
		SignedURLSecret:     v.GetString("FILES_SIGNED_URL_SECRET"),
		SignedURLTTL:        parseDuration(v.GetString("FILES_SIGNED_URL_TTL"), time.Hour),
		OSSEndpoint:         v.GetString("ALI_OSS_ENDPOINT"),
		OSSAccessKey:        v.GetString("ALI_OSS_ACCESS_KEY"),
		OSSSecretKey:        v.GetString("ALI_OSS_SECRET_KEY"),
		OSSBucket:           v.GetString("ALI_OSS_BUCKET"),
		OSSPrefix:           v.GetString("ALI_OSS_PREFIX"),
		OSSPublicBase:       v.GetString("ALI_OSS_PUBLIC_BASE"),
		CloudinaryCloudName: v.GetString("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    v.GetString("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: v.GetString("CLOUDINARY_API_SECRET"),
		CloudinaryFolder:    v.GetString("CLOUDINARY_FOLDER"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.Reconcile = ReconcileConfig{
		Enabled:  v.GetBool("ENABLE_RECONCILE"),
		Schedule: v.GetString("RECONCILE_SCHEDULE"),
		Timeout:  parseDuration(v.GetString("RECONCILE_TIMEOUT"), 2*time.Minute),
	}

	cfg.Tracing = TracingConfig{
		Enabled:     v.GetBool("OTEL_ENABLED"),
		Endpoint:    v.GetString("OTEL_ENDPOINT"),
		ServiceName: v.GetString("OTEL_SERVICE_NAME"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 5000)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_registration")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_KEY_PREFIX", "course-registration:")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "720h")
	v.SetDefault("JWT_ISSUER", "course-registration-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("ALLOW_ADMIN_SIGNUP", false)

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_ADDRESS", "no-reply@course-portal.local")
	v.SetDefault("MAIL_FROM_NAME", "Course Portal")
	v.SetDefault("MAIL_QUEUE_WORKERS", 2)
	v.SetDefault("MAIL_QUEUE_RETRIES", 3)

	v.SetDefault("FILES_DRIVER", StorageDriverLocal)
	v.SetDefault("FILES_MAX_SIZE", 10*1024*1024)
	v.SetDefault("FILES_ALLOWED_MIME_TYPES", "")
	v.SetDefault("FILES_LOCAL_DIR", "./uploads")
	v.SetDefault("FILES_SIGNED_URL_SECRET", "dev_files_secret")
	v.SetDefault("FILES_SIGNED_URL_TTL", "1h")
	v.SetDefault("ALI_OSS_PREFIX", "course-files")
	v.SetDefault("CLOUDINARY_FOLDER", "course-files")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("ENABLE_RECONCILE", true)
	v.SetDefault("RECONCILE_SCHEDULE", "@every 15m")
	v.SetDefault("RECONCILE_TIMEOUT", "2m")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "course-registration-api")
}

// SetConfigFile bypasses viper's not-found error type, so a missing .env
// surfaces as a plain fs error.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
