package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/school-portal-api/internal/repository"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached read models.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) (*repository.CacheEntry, error)
	Set(ctx context.Context, key string, value interface{}, storedAt time.Time, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheResult describes how a read was served.
type CacheResult struct {
	Hit       bool
	Staleness time.Duration
}

// AccessCacheKey is the cache key of a student's feature access view.
func AccessCacheKey(studentID string) string {
	return fmt.Sprintf("access:student:%s", studentID)
}

// GradesCacheKey is the cache key of a student's visible grades.
func GradesCacheKey(studentID string) string {
	return fmt.Sprintf("grades:student:%s", studentID)
}

// CacheService fronts the read-model cache. Entries carry the time they were
// stored so callers can report how stale a hit is. The engine never touches
// the cache; cascade steps invalidate it.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
	group      singleflight.Group

	// epoch advances on every invalidation; loads that overlap one are
	// returned but not stored.
	epoch atomic.Uint64
	now   func() time.Time
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:       repo,
		metrics:    metrics,
		defaultTTL: defaultTTL,
		logger:     logger,
		enabled:    enabled,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get decodes the entry for key into dest. A miss is not an error.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (CacheResult, error) {
	if !s.Enabled() {
		return CacheResult{}, nil
	}
	start := time.Now()
	entry, err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return CacheResult{}, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return CacheResult{}, err
	}
	s.metrics.RecordCacheOperation(true, duration)

	staleness := s.now().Sub(entry.StoredAt)
	if staleness < 0 {
		staleness = 0
	}
	return CacheResult{Hit: true, Staleness: staleness}, nil
}

// Set stores value under key with the default TTL.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	if !s.Enabled() {
		return nil
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, s.now(), s.defaultTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes the given keys.
func (s *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}
	s.epoch.Add(1)
	for _, key := range keys {
		s.group.Forget(key)
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Fetch serves key from the cache or calls load, storing its result.
// Concurrent misses for the same key share one load. A result is not stored
// when an invalidation ran while it was loading. Cache errors degrade to a
// direct load.
func Fetch[T any](ctx context.Context, s *CacheService, key string, load func(context.Context) (T, error)) (T, CacheResult, error) {
	if s == nil {
		v, err := load(ctx)
		return v, CacheResult{}, err
	}
	var cached T
	if s.Enabled() {
		if res, err := s.Get(ctx, key, &cached); err == nil && res.Hit {
			return cached, res, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		epoch := s.epoch.Load()
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if s.epoch.Load() == epoch {
			_ = s.Set(ctx, key, value)
		} else {
			s.logger.Debug("cache write skipped after invalidation", zap.String("key", key))
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, CacheResult{}, err
	}
	return v.(T), CacheResult{}, nil
}
