package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type accessStoreStub struct {
	rows  map[string]*models.StudentFeatureAccess
	reads int
}

func (s *accessStoreStub) Get(ctx context.Context, studentID string) (*models.StudentFeatureAccess, error) {
	s.reads++
	row, ok := s.rows[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (s *accessStoreStub) SetAccess(ctx context.Context, studentID string, unlocked bool, enrollmentID string, at time.Time) error {
	if s.rows == nil {
		s.rows = make(map[string]*models.StudentFeatureAccess)
	}
	s.rows[studentID] = &models.StudentFeatureAccess{StudentID: studentID, Unlocked: unlocked, EnrollmentID: &enrollmentID, UpdatedAt: at}
	return nil
}

func TestAccessServiceLockedWithoutRow(t *testing.T) {
	svc := NewAccessService(&accessStoreStub{}, nil, nil)

	view, res, err := svc.Get(context.Background(), "stu-1", claimsFor("stu-1", models.RoleStudent))
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.False(t, view.Unlocked)
	require.Len(t, view.Features, len(models.GatedFeatures))
	for _, f := range models.GatedFeatures {
		assert.False(t, view.Features[f], f)
	}
}

func TestAccessServiceServesFromCacheUntilInvalidated(t *testing.T) {
	store := &accessStoreStub{}
	require.NoError(t, store.SetAccess(context.Background(), "stu-1", true, "enr-1", time.Now().UTC()))
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewAccessService(store, cache, nil)
	claims := claimsFor("stu-1", models.RoleStudent)

	view, res, err := svc.Get(context.Background(), "stu-1", claims)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.True(t, view.Features[models.FeatureCourseList])

	require.NoError(t, store.SetAccess(context.Background(), "stu-1", false, "enr-1", time.Now().UTC()))
	view, res, err = svc.Get(context.Background(), "stu-1", claims)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.True(t, view.Unlocked)

	require.NoError(t, cache.Invalidate(context.Background(), AccessCacheKey("stu-1")))
	view, res, err = svc.Get(context.Background(), "stu-1", claims)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.False(t, view.Unlocked)
	assert.Equal(t, 2, store.reads)
}

func TestAccessServiceScopesStudents(t *testing.T) {
	svc := NewAccessService(&accessStoreStub{}, nil, nil)
	_, _, err := svc.Get(context.Background(), "stu-1", claimsFor("stu-2", models.RoleStudent))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.Get(context.Background(), "stu-1", claimsFor("reg-1", models.RoleRegistrar))
	assert.NoError(t, err)
}

func TestAccessServiceFeatureUnlockedReadsStore(t *testing.T) {
	store := &accessStoreStub{}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewAccessService(store, cache, nil)
	ctx := context.Background()

	unlocked, err := svc.FeatureUnlocked(ctx, "stu-1", models.FeatureAcademicRecords)
	require.NoError(t, err)
	assert.False(t, unlocked)

	require.NoError(t, store.SetAccess(ctx, "stu-1", true, "enr-1", time.Now().UTC()))
	unlocked, err = svc.FeatureUnlocked(ctx, "stu-1", models.FeatureAcademicRecords)
	require.NoError(t, err)
	assert.True(t, unlocked)

	require.NoError(t, store.SetAccess(ctx, "stu-1", false, "enr-1", time.Now().UTC()))
	unlocked, err = svc.FeatureUnlocked(ctx, "stu-1", models.FeatureAcademicRecords)
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.Equal(t, 3, store.reads)

	unlocked, err = svc.FeatureUnlocked(ctx, "stu-1", models.StudentFeature("profile"))
	require.NoError(t, err)
	assert.True(t, unlocked)
}
