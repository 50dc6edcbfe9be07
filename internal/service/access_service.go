package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
)

type accessReader interface {
	Get(ctx context.Context, studentID string) (*models.StudentFeatureAccess, error)
}

// AccessService serves the student feature-unlock read model.
type AccessService struct {
	repo   accessReader
	cache  *CacheService
	logger *zap.Logger
}

// NewAccessService builds an AccessService.
func NewAccessService(repo accessReader, cache *CacheService, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{repo: repo, cache: cache, logger: logger}
}

// Get returns the student's feature access. A student with no access row
// has every gated feature locked.
func (s *AccessService) Get(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.AccessView, CacheResult, error) {
	if err := requireOwnerOr(claims, studentID, staffViewers...); err != nil {
		return nil, CacheResult{}, err
	}
	view, res, err := Fetch(ctx, s.cache, AccessCacheKey(studentID), func(ctx context.Context) (*models.AccessView, error) {
		row, err := s.repo.Get(ctx, studentID)
		if errors.Is(err, sql.ErrNoRows) {
			return accessView(&models.StudentFeatureAccess{StudentID: studentID}), nil
		}
		if err != nil {
			return nil, err
		}
		return accessView(row), nil
	})
	if err != nil {
		return nil, CacheResult{}, wrapInternal(err, "failed to load feature access")
	}
	return view, res, nil
}

// FeatureUnlocked reports whether feature is open to the student. It reads
// the access row directly; gating never goes through the cached view.
func (s *AccessService) FeatureUnlocked(ctx context.Context, studentID string, feature models.StudentFeature) (bool, error) {
	if !isGated(feature) {
		return true, nil
	}
	row, err := s.repo.Get(ctx, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapInternal(err, "failed to load feature access")
	}
	return row.Unlocked, nil
}

func isGated(feature models.StudentFeature) bool {
	for _, f := range models.GatedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

func accessView(row *models.StudentFeatureAccess) *models.AccessView {
	features := make(map[models.StudentFeature]bool, len(models.GatedFeatures))
	for _, f := range models.GatedFeatures {
		features[f] = row.Unlocked
	}
	return &models.AccessView{
		StudentID:    row.StudentID,
		Unlocked:     row.Unlocked,
		EnrollmentID: row.EnrollmentID,
		Features:     features,
		UpdatedAt:    row.UpdatedAt,
	}
}
