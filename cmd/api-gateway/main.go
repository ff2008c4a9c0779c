package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-registration-api/api/swagger"
	"github.com/noah-isme/course-registration-api/internal/handler"
	"github.com/noah-isme/course-registration-api/internal/middleware"
	"github.com/noah-isme/course-registration-api/internal/repository"
	"github.com/noah-isme/course-registration-api/internal/service"
	"github.com/noah-isme/course-registration-api/pkg/cache"
	"github.com/noah-isme/course-registration-api/pkg/config"
	"github.com/noah-isme/course-registration-api/pkg/database"
	"github.com/noah-isme/course-registration-api/pkg/jobs"
	"github.com/noah-isme/course-registration-api/pkg/logger"
	"github.com/noah-isme/course-registration-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/course-registration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-registration-api/pkg/middleware/requestid"
	"github.com/noah-isme/course-registration-api/pkg/storage"
	"github.com/noah-isme/course-registration-api/pkg/tracing"
)

// @title Course Registration API
// @version 1.0.0
// @description Course catalog, enrollment ledger and roster exports
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Fatal("failed to apply schema", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, course cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	metricsSvc := service.NewMetricsService()
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix)
	}
	courseCache := service.NewCourseCache(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)

	store, err := storage.New(cfg.Files, strings.TrimRight(cfg.APIPrefix, "/")+"/files")
	if err != nil {
		logr.Fatal("failed to init object store", zap.Error(err))
	}

	var deliverer mail.Mailer = mail.NewLogMailer(logr)
	if cfg.Mail.SendGridAPIKey != "" {
		deliverer = mail.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromAddress, cfg.Mail.FromName)
	}
	mailQueue := jobs.NewQueue("mail", mail.Handler(deliverer), jobs.QueueConfig{
		Workers:    cfg.Mail.QueueWorkers,
		MaxRetries: cfg.Mail.QueueRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	// Outlives the signal so mail from requests still draining gets delivered.
	mailQueue.Start(context.Background())

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	fileRepo := repository.NewCourseFileRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	authSvc := service.NewAuthService(userRepo, mail.NewQueuedMailer(mailQueue), nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		OTPTTL:            cfg.Auth.OTPTTL,
		AllowAdminSignup:  cfg.Auth.AllowAdminSignup,
	})
	courseSvc := service.NewCourseService(courseRepo, fileRepo, store, courseCache, nil, logr)
	fileSvc := service.NewCourseFileService(fileRepo, courseSvc, store, courseCache, service.CourseFileConfig{
		MaxSizeBytes: cfg.Files.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Files.AllowedMIMEs,
		KeyPrefix:    "course-files",
	}, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, courseCache, metricsSvc, nil, logr)

	var scheduler *service.ReconcileScheduler
	if cfg.Reconcile.Enabled {
		scheduler = service.NewReconcileScheduler(enrollmentSvc, cfg.Reconcile.Schedule, cfg.Reconcile.Timeout, logr)
		if err := scheduler.Start(); err != nil {
			logr.Fatal("failed to start reconcile scheduler", zap.Error(err))
		}
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(middleware.Tracing())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, MaxAge: cfg.CORS.MaxAge}))

	checks := []handler.ReadinessCheck{{Name: "database", Check: db.PingContext}}
	if redisClient != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: cache.Ping(redisClient)})
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeHandlers{
		auth:        handler.NewAuthHandler(authSvc),
		courses:     handler.NewCourseHandler(courseSvc),
		files:       handler.NewFileHandler(fileSvc),
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		tokens:      authSvc,
		logger:      logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", store.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	mailQueue.Drain(shutdownCtx)
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown failed", zap.Error(err))
	}
}
