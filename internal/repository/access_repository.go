package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// AccessRepository stores the per-student feature unlock flag.
type AccessRepository struct {
	db *sqlx.DB
}

// NewAccessRepository constructs the repository.
func NewAccessRepository(db *sqlx.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

// Get returns the access row of a student or sql.ErrNoRows when none exists.
func (r *AccessRepository) Get(ctx context.Context, studentID string) (*models.StudentFeatureAccess, error) {
	const query = `SELECT student_id, unlocked, enrollment_id, updated_at FROM student_feature_access WHERE student_id = $1`
	var access models.StudentFeatureAccess
	if err := r.db.GetContext(ctx, &access, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get student feature access: %w", err)
	}
	return &access, nil
}

// SetAccess upserts the flag. at is the commit time of the transition that
// caused the change; an older write never overwrites a newer one, so
// redelivered or reordered cascade steps converge.
func (r *AccessRepository) SetAccess(ctx context.Context, studentID string, unlocked bool, enrollmentID string, at time.Time) error {
	const query = `INSERT INTO student_feature_access (student_id, unlocked, enrollment_id, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (student_id) DO UPDATE SET unlocked = EXCLUDED.unlocked, enrollment_id = EXCLUDED.enrollment_id, updated_at = EXCLUDED.updated_at
WHERE student_feature_access.updated_at <= EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, studentID, unlocked, enrollmentID, at); err != nil {
		return fmt.Errorf("set student feature access: %w", err)
	}
	return nil
}
