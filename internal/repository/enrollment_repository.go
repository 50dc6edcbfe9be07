package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
)

const enrollmentColumns = `id, student_id, academic_year, semester, program_id, year_level, status, version, id_photo_submitted, id_photo_ref, birth_certificate_submitted, birth_certificate_ref, form137_submitted, form137_ref, created_at, updated_at`

const balanceQuery = `SELECT
	COALESCE((SELECT SUM(amount_cents) FROM enrollment_fees WHERE enrollment_id = $1), 0) AS assessed_cents,
	COALESCE((SELECT SUM(amount_cents) FROM enrollment_payments WHERE enrollment_id = $1), 0) AS paid_cents`

var documentColumns = map[models.DocumentKind][2]string{
	models.DocumentIDPhoto:          {"id_photo_submitted", "id_photo_ref"},
	models.DocumentBirthCertificate: {"birth_certificate_submitted", "birth_certificate_ref"},
	models.DocumentForm137:          {"form137_submitted", "form137_ref"},
}

// EnrollmentRepository persists term enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a new enrollment. A second enrollment for the same student
// and term yields ErrDuplicate.
func (r *EnrollmentRepository) Create(ctx context.Context, e *models.Enrollment) error {
	const query = `INSERT INTO enrollments (id, student_id, academic_year, semester, program_id, year_level, status, version, created_at, updated_at)
VALUES (:id, :student_id, :academic_year, :semester, :program_id, :year_level, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// GetByID returns an enrollment without locking it.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var e models.Enrollment
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

// ListByStudent returns a student's enrollments, newest term first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY academic_year DESC, semester DESC, created_at DESC`
	var out []models.Enrollment
	if err := r.db.SelectContext(ctx, &out, query, studentID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

// Balance sums assessed fees and payments for an enrollment.
func (r *EnrollmentRepository) Balance(ctx context.Context, id string) (models.Balance, error) {
	var b models.Balance
	if err := r.db.GetContext(ctx, &b, balanceQuery, id); err != nil {
		return models.Balance{}, fmt.Errorf("enrollment balance: %w", err)
	}
	return b, nil
}

// AttachDocument marks a document present under a row lock. check receives
// the locked status and may veto the write.
func (r *EnrollmentRepository) AttachDocument(ctx context.Context, id string, kind models.DocumentKind, ref string, check func(*models.Enrollment) error) (*models.Enrollment, error) {
	cols, ok := documentColumns[kind]
	if !ok {
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	var updated models.Enrollment
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		current, err := lockEnrollment(ctx, tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}
		query := fmt.Sprintf(`UPDATE enrollments SET %s = TRUE, %s = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, cols[0], cols[1], enrollmentColumns)
		if err := tx.GetContext(ctx, &updated, query, id, ref, time.Now().UTC()); err != nil {
			return fmt.Errorf("attach enrollment document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapConflict(err)
	}
	return &updated, nil
}

func lockEnrollment(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var e models.Enrollment
	if err := tx.GetContext(ctx, &e, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &e, nil
}

// PeekSnapshot reads the enrollment and its balance without locking.
func (r *EnrollmentRepository) PeekSnapshot(ctx context.Context, id string) (*workflow.Snapshot, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := r.Balance(ctx, id)
	if err != nil {
		return nil, err
	}
	return enrollmentSnapshot(e, b), nil
}

// LockSnapshot implements the workflow store contract.
func (r *EnrollmentRepository) LockSnapshot(ctx context.Context, tx *sqlx.Tx, id string) (*workflow.Snapshot, error) {
	e, err := lockEnrollment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	var b models.Balance
	if err := tx.GetContext(ctx, &b, balanceQuery, id); err != nil {
		return nil, fmt.Errorf("enrollment balance: %w", err)
	}
	return enrollmentSnapshot(e, b), nil
}

func enrollmentSnapshot(e *models.Enrollment, b models.Balance) *workflow.Snapshot {
	return &workflow.Snapshot{
		Type:         workflow.TypeEnrollment,
		EntityID:     e.ID,
		OwnerID:      e.StudentID,
		Status:       workflow.Status(e.Status),
		Version:      e.Version,
		BalanceCents: b.OutstandingCents(),

		DocumentsComplete: e.DocumentsComplete(),
	}
}

// SaveSnapshot writes the new status when the stored version still matches.
func (r *EnrollmentRepository) SaveSnapshot(ctx context.Context, tx *sqlx.Tx, prev, next workflow.Snapshot) error {
	const query = `UPDATE enrollments SET status = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5`
	res, err := tx.ExecContext(ctx, query, string(next.Status), next.Version, time.Now().UTC(), prev.EntityID, prev.Version)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return expectOneRow(res, "enrollment")
}
