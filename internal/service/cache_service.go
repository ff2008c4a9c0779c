package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

const (
	courseCachePrefix  = "courses:"
	courseCachePattern = courseCachePrefix + "*"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CourseCache keeps catalog listings keyed by filter. Cache failures never
// fail a request: reads fall back to the database and writes are logged.
type CourseCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCourseCache constructs the catalog cache. A nil repo disables it.
func NewCourseCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CourseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether listings are cached.
func (c *CourseCache) Enabled() bool {
	return c != nil && c.enabled && c.repo != nil
}

// Lookup returns the cached listing for filter.
func (c *CourseCache) Lookup(ctx context.Context, filter models.CourseFilter) ([]models.Course, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := courseListKey(filter)
	start := time.Now()
	var courses []models.Course
	err := c.repo.Get(ctx, key, &courses)
	c.recordRead(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("course cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return courses, true
}

// Store caches a listing. Stored URLs are kept raw; signed download links
// are resolved on every read.
func (c *CourseCache) Store(ctx context.Context, filter models.CourseFilter, courses []models.Course) {
	if !c.Enabled() {
		return
	}
	key := courseListKey(filter)
	start := time.Now()
	err := c.repo.Set(ctx, key, courses, c.ttl)
	if c.metrics != nil {
		c.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		c.logger.Warn("course cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached listing. reason names the mutation for logs.
func (c *CourseCache) Invalidate(ctx context.Context, reason string) {
	if !c.Enabled() {
		return
	}
	if err := c.repo.DeleteByPattern(ctx, courseCachePattern); err != nil {
		c.logger.Warn("course cache invalidation failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	c.logger.Debug("course cache invalidated", zap.String("reason", reason))
}

func (c *CourseCache) recordRead(hit bool, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(hit, duration)
	}
}

func courseListKey(filter models.CourseFilter) string {
	return fmt.Sprintf("%slist:dept=%s:q=%s:inactive=%t", courseCachePrefix,
		filter.Department, strings.ToLower(filter.Search), filter.IncludeInactive)
}
