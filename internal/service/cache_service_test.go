package service

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

type fakeCacheRepo struct {
	mu          sync.Mutex
	data        map[string][]byte
	invalidated []string
	getErr      error
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{data: map[string][]byte{}}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return f.getErr
	}
	raw, ok := f.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = raw
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, pattern)
	for key := range f.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(f.data, key)
		}
	}
	return nil
}

func (f *fakeCacheRepo) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidated)
}

func TestCourseCacheLookupStoreAndMetrics(t *testing.T) {
	repo := newFakeCacheRepo()
	metrics := NewMetricsService()
	cache := NewCourseCache(repo, metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	filter := models.CourseFilter{Department: "Physics", Search: "Intro"}

	_, ok := cache.Lookup(ctx, filter)
	assert.False(t, ok)

	cache.Store(ctx, filter, []models.Course{{ID: "c-1", Code: "PHY101"}})
	courses, ok := cache.Lookup(ctx, filter)
	require.True(t, ok)
	require.Len(t, courses, 1)
	assert.Equal(t, "PHY101", courses[0].Code)

	_, ok = cache.Lookup(ctx, models.CourseFilter{Department: "Physics", Search: "intro", IncludeInactive: true})
	assert.False(t, ok, "inactive listings are cached separately")
	_, ok = cache.Lookup(ctx, models.CourseFilter{Department: "Physics", Search: "INTRO"})
	assert.True(t, ok, "search terms are case-insensitive")

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.CacheHits)
	assert.Equal(t, uint64(2), snapshot.CacheMisses)

	cache.Invalidate(ctx, "course updated")
	_, ok = cache.Lookup(ctx, filter)
	assert.False(t, ok)
	assert.Equal(t, []string{courseCachePattern}, repo.invalidated)
}

func TestCourseCacheDisabled(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := NewCourseCache(repo, nil, 0, zap.NewNop(), false)
	ctx := context.Background()

	cache.Store(ctx, models.CourseFilter{}, []models.Course{{ID: "c-1"}})
	assert.Empty(t, repo.data)
	cache.Invalidate(ctx, "course created")
	assert.Zero(t, repo.invalidations())

	var nilCache *CourseCache
	assert.False(t, nilCache.Enabled())
	_, ok := nilCache.Lookup(ctx, models.CourseFilter{})
	assert.False(t, ok)
	nilCache.Invalidate(ctx, "course created")

	assert.False(t, NewCourseCache(nil, nil, 0, nil, true).Enabled())
}

func TestCourseCacheFallsBackOnBackendErrors(t *testing.T) {
	repo := newFakeCacheRepo()
	repo.getErr = errors.New("connection refused")
	metrics := NewMetricsService()
	cache := NewCourseCache(repo, metrics, 0, zap.NewNop(), true)

	_, ok := cache.Lookup(context.Background(), models.CourseFilter{})
	assert.False(t, ok)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheMisses)
}
