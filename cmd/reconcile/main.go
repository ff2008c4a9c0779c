// Command reconcile repairs drifted enrolled counters once and exits. It
// exits non-zero when the run fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/repository"
	"github.com/noah-isme/course-registration-api/internal/service"
	"github.com/noah-isme/course-registration-api/pkg/cache"
	"github.com/noah-isme/course-registration-api/pkg/config"
	"github.com/noah-isme/course-registration-api/pkg/database"
	"github.com/noah-isme/course-registration-api/pkg/logger"
)

func main() {
	timeout := flag.Duration("timeout", 0, "overrides RECONCILE_TIMEOUT")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	runTimeout := cfg.Reconcile.Timeout
	if *timeout > 0 {
		runTimeout = *timeout
	}

	// Corrected counters must not be served from stale catalog listings.
	var courseCache *service.CourseCache
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cached listings expire on their own", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			courseCache = service.NewCourseCache(repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix), nil, cfg.Cache.TTL, logr, true)
		}
	}

	enrollments := service.NewEnrollmentService(
		repository.NewEnrollmentRepository(db),
		repository.NewCourseRepository(db),
		courseCache, nil, nil, logr,
	)
	scheduler := service.NewReconcileScheduler(enrollments, cfg.Reconcile.Schedule, runTimeout, logr)

	started := time.Now()
	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		logr.Error("reconcile failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logr.Error("failed to print report", zap.Error(err))
		os.Exit(1)
	}
}
