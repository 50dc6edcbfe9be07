package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
)

const (
	creditTransferColumns = `id, student_id, transcript_ref, status, version, created_at, updated_at`
	equivalencyColumns    = `id, request_id, external_code, external_name, external_grade, external_units, source_school, source_academic_year, equivalent_course_id, created_at, updated_at`
)

// CreditTransferRepository persists TOR evaluation requests, their course
// equivalencies and the credits committed from them.
type CreditTransferRepository struct {
	db *sqlx.DB
}

// NewCreditTransferRepository constructs the repository.
func NewCreditTransferRepository(db *sqlx.DB) *CreditTransferRepository {
	return &CreditTransferRepository{db: db}
}

// Create inserts a new request. A student may hold only one open request.
func (r *CreditTransferRepository) Create(ctx context.Context, req *models.CreditTransferRequest) error {
	const query = `INSERT INTO credit_transfer_requests (id, student_id, transcript_ref, status, version, created_at, updated_at)
VALUES (:id, :student_id, :transcript_ref, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert credit transfer request: %w", err)
	}
	return nil
}

// GetByID returns a request without locking it.
func (r *CreditTransferRepository) GetByID(ctx context.Context, id string) (*models.CreditTransferRequest, error) {
	query := `SELECT ` + creditTransferColumns + ` FROM credit_transfer_requests WHERE id = $1`
	var req models.CreditTransferRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get credit transfer request: %w", err)
	}
	return &req, nil
}

// ListEquivalencies returns a request's equivalency rows in insertion order.
func (r *CreditTransferRepository) ListEquivalencies(ctx context.Context, requestID string) ([]models.CourseEquivalency, error) {
	return listEquivalencies(ctx, r.db, requestID)
}

func listEquivalencies(ctx context.Context, q sqlx.QueryerContext, requestID string) ([]models.CourseEquivalency, error) {
	query := `SELECT ` + equivalencyColumns + ` FROM course_equivalencies WHERE request_id = $1 ORDER BY created_at ASC, id ASC`
	var rows []models.CourseEquivalency
	if err := sqlx.SelectContext(ctx, q, &rows, query, requestID); err != nil {
		return nil, fmt.Errorf("list course equivalencies: %w", err)
	}
	return rows, nil
}

// SetTranscript records the storage reference of the uploaded transcript.
func (r *CreditTransferRepository) SetTranscript(ctx context.Context, id, ref string, check func(*models.CreditTransferRequest) error) error {
	const query = `UPDATE credit_transfer_requests SET transcript_ref = $2, updated_at = $3 WHERE id = $1`
	return r.lockedWrite(ctx, id, check, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, id, ref, time.Now().UTC()); err != nil {
			return fmt.Errorf("set transcript reference: %w", err)
		}
		return nil
	})
}

// AddEquivalency appends a row under the request lock.
func (r *CreditTransferRepository) AddEquivalency(ctx context.Context, eq *models.CourseEquivalency, check func(*models.CreditTransferRequest) error) error {
	const query = `INSERT INTO course_equivalencies (id, request_id, external_code, external_name, external_grade, external_units, source_school, source_academic_year, equivalent_course_id, created_at, updated_at)
VALUES (:id, :request_id, :external_code, :external_name, :external_grade, :external_units, :source_school, :source_academic_year, :equivalent_course_id, :created_at, :updated_at)`
	return r.lockedWrite(ctx, eq.RequestID, check, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, eq); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert course equivalency: %w", err)
		}
		return nil
	})
}

// UpdateEquivalency overwrites a row under the request lock.
func (r *CreditTransferRepository) UpdateEquivalency(ctx context.Context, eq *models.CourseEquivalency, check func(*models.CreditTransferRequest) error) error {
	const query = `UPDATE course_equivalencies SET external_code = :external_code, external_name = :external_name, external_grade = :external_grade, external_units = :external_units, source_school = :source_school, source_academic_year = :source_academic_year, equivalent_course_id = :equivalent_course_id, updated_at = :updated_at
WHERE id = :id AND request_id = :request_id`
	return r.lockedWrite(ctx, eq.RequestID, check, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, query, eq)
		if err != nil {
			return fmt.Errorf("update course equivalency: %w", err)
		}
		return expectAffected(res, "update course equivalency")
	})
}

// RemoveEquivalency deletes a row under the request lock.
func (r *CreditTransferRepository) RemoveEquivalency(ctx context.Context, requestID, equivalencyID string, check func(*models.CreditTransferRequest) error) error {
	const query = `DELETE FROM course_equivalencies WHERE id = $1 AND request_id = $2`
	return r.lockedWrite(ctx, requestID, check, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, equivalencyID, requestID)
		if err != nil {
			return fmt.Errorf("delete course equivalency: %w", err)
		}
		return expectAffected(res, "delete course equivalency")
	})
}

func (r *CreditTransferRepository) lockedWrite(ctx context.Context, requestID string, check func(*models.CreditTransferRequest) error, write func(tx *sqlx.Tx) error) error {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		req, err := lockCreditTransfer(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(req); err != nil {
				return err
			}
		}
		return write(tx)
	})
	return mapConflict(err)
}

func expectAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func lockCreditTransfer(ctx context.Context, tx *sqlx.Tx, id string) (*models.CreditTransferRequest, error) {
	query := `SELECT ` + creditTransferColumns + ` FROM credit_transfer_requests WHERE id = $1 FOR UPDATE`
	var req models.CreditTransferRequest
	if err := tx.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock credit transfer request: %w", err)
	}
	return &req, nil
}

// LockSnapshot implements the workflow store contract. Equivalencies are read
// inside the same transaction so the guards see the rows the lock protects.
func (r *CreditTransferRepository) LockSnapshot(ctx context.Context, tx *sqlx.Tx, id string) (*workflow.Snapshot, error) {
	req, err := lockCreditTransfer(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	equivalencies, err := listEquivalencies(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return creditTransferSnapshot(req, equivalencies), nil
}

// PeekSnapshot reads the request and its equivalencies without locking.
func (r *CreditTransferRepository) PeekSnapshot(ctx context.Context, id string) (*workflow.Snapshot, error) {
	req, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	equivalencies, err := r.ListEquivalencies(ctx, id)
	if err != nil {
		return nil, err
	}
	return creditTransferSnapshot(req, equivalencies), nil
}

func creditTransferSnapshot(req *models.CreditTransferRequest, equivalencies []models.CourseEquivalency) *workflow.Snapshot {
	return &workflow.Snapshot{
		Type:          workflow.TypeCreditTransfer,
		EntityID:      req.ID,
		OwnerID:       req.StudentID,
		Status:        workflow.Status(req.Status),
		Version:       req.Version,
		Equivalencies: equivalencies,
	}
}

// SaveSnapshot writes the new status when the stored version still matches.
func (r *CreditTransferRepository) SaveSnapshot(ctx context.Context, tx *sqlx.Tx, prev, next workflow.Snapshot) error {
	const query = `UPDATE credit_transfer_requests SET status = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5`
	res, err := tx.ExecContext(ctx, query, string(next.Status), next.Version, time.Now().UTC(), prev.EntityID, prev.Version)
	if err != nil {
		return fmt.Errorf("update credit transfer status: %w", err)
	}
	return expectOneRow(res, "credit transfer")
}

// CommitCredits turns every equivalency of an approved request into a
// permanent credit. Rows already credited are skipped, so the call may be
// repeated safely. It returns the number of credits inserted.
func (r *CreditTransferRepository) CommitCredits(ctx context.Context, requestID string) (int, error) {
	const query = `INSERT INTO academic_credits (id, student_id, course_id, equivalency_id, request_id, grade, units, source_school, credited_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (equivalency_id) DO NOTHING`

	inserted := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		req, err := lockCreditTransfer(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.CreditTransferRegistrarApproved {
			return fmt.Errorf("credit transfer %s is %s, not %s", requestID, req.Status, models.CreditTransferRegistrarApproved)
		}
		equivalencies, err := listEquivalencies(ctx, tx, requestID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, eq := range equivalencies {
			res, err := tx.ExecContext(ctx, query,
				uuid.NewString(),
				req.StudentID,
				eq.EquivalentCourseID,
				eq.ID,
				requestID,
				eq.ExternalGrade,
				eq.ExternalUnits,
				eq.SourceSchool,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert academic credit: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapConflict(err)
	}
	return inserted, nil
}

// ListCredits returns a student's committed credits.
func (r *CreditTransferRepository) ListCredits(ctx context.Context, studentID string) ([]models.AcademicCredit, error) {
	const query = `SELECT id, student_id, course_id, equivalency_id, request_id, grade, units, source_school, credited_at FROM academic_credits WHERE student_id = $1 ORDER BY credited_at ASC, course_id ASC`
	var credits []models.AcademicCredit
	if err := r.db.SelectContext(ctx, &credits, query, studentID); err != nil {
		return nil, fmt.Errorf("list academic credits: %w", err)
	}
	return credits, nil
}
