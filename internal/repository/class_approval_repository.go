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

const classApprovalColumns = `id, pc_id, instructor_id, status, version, cycle, program_head_approved_cycle, dean_approved_cycle, created_at, updated_at`

// ClassApprovalRepository persists class approvals and their grade records.
type ClassApprovalRepository struct {
	db *sqlx.DB
}

// NewClassApprovalRepository constructs the repository.
func NewClassApprovalRepository(db *sqlx.DB) *ClassApprovalRepository {
	return &ClassApprovalRepository{db: db}
}

// Create inserts the approval opened when an instructor is assigned.
func (r *ClassApprovalRepository) Create(ctx context.Context, ca *models.ClassApproval) error {
	const query = `INSERT INTO class_approvals (id, pc_id, instructor_id, status, version, cycle, created_at, updated_at)
VALUES (:id, :pc_id, :instructor_id, :status, :version, :cycle, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ca); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert class approval: %w", err)
	}
	return nil
}

// GetByID returns a class approval without locking it.
func (r *ClassApprovalRepository) GetByID(ctx context.Context, id string) (*models.ClassApproval, error) {
	query := `SELECT ` + classApprovalColumns + ` FROM class_approvals WHERE id = $1`
	var ca models.ClassApproval
	if err := r.db.GetContext(ctx, &ca, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get class approval: %w", err)
	}
	return &ca, nil
}

// Counts projects the graded and registrar-approved totals of a class.
func (r *ClassApprovalRepository) Counts(ctx context.Context, id string) (models.ClassApprovalCounts, error) {
	const query = `SELECT COUNT(*) FILTER (WHERE grade IS NOT NULL) AS graded, COUNT(*) FILTER (WHERE registrar_approved) AS registrar_approved FROM class_grade_records WHERE class_approval_id = $1`
	var counts models.ClassApprovalCounts
	if err := r.db.GetContext(ctx, &counts, query, id); err != nil {
		return models.ClassApprovalCounts{}, fmt.Errorf("count class grade records: %w", err)
	}
	return counts, nil
}

// ListGrades returns every grade record of a class ordered by student.
func (r *ClassApprovalRepository) ListGrades(ctx context.Context, id string) ([]models.ClassGradeRecord, error) {
	const query = `SELECT id, class_approval_id, student_id, grade, remarks, registrar_approved, updated_at FROM class_grade_records WHERE class_approval_id = $1 ORDER BY student_id`
	var records []models.ClassGradeRecord
	if err := r.db.SelectContext(ctx, &records, query, id); err != nil {
		return nil, fmt.Errorf("list class grade records: %w", err)
	}
	return records, nil
}

// StudentIDs lists the students holding a grade record in the class.
func (r *ClassApprovalRepository) StudentIDs(ctx context.Context, id string) ([]string, error) {
	const query = `SELECT student_id FROM class_grade_records WHERE class_approval_id = $1 ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, id); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return ids, nil
}

// UpsertGrades writes grade records under the class row lock. check sees the
// locked approval and may veto the write.
func (r *ClassApprovalRepository) UpsertGrades(ctx context.Context, id string, records []models.ClassGradeRecord, check func(*models.ClassApproval) error) error {
	const query = `INSERT INTO class_grade_records (id, class_approval_id, student_id, grade, remarks, registrar_approved, updated_at)
VALUES (:id, :class_approval_id, :student_id, :grade, :remarks, FALSE, :updated_at)
ON CONFLICT (class_approval_id, student_id) DO UPDATE SET grade = EXCLUDED.grade, remarks = EXCLUDED.remarks, updated_at = EXCLUDED.updated_at`

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		ca, err := lockClassApproval(ctx, tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(ca); err != nil {
				return err
			}
		}
		for i := range records {
			records[i].ClassApprovalID = id
			if _, err := tx.NamedExecContext(ctx, query, &records[i]); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("student %s: %w", records[i].StudentID, sql.ErrNoRows)
				}
				return fmt.Errorf("upsert class grade record: %w", err)
			}
		}
		return nil
	})
	return mapConflict(err)
}

// SetRegistrarApproval flips the registrar flag on one student's record.
func (r *ClassApprovalRepository) SetRegistrarApproval(ctx context.Context, id, studentID string, approved bool, check func(*models.ClassApproval) error) error {
	const query = `UPDATE class_grade_records SET registrar_approved = $3, updated_at = $4 WHERE class_approval_id = $1 AND student_id = $2`
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		ca, err := lockClassApproval(ctx, tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(ca); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, query, id, studentID, approved, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("update registrar approval: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("registrar approval rows affected: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	return mapConflict(err)
}

// VisibleGradesForStudent returns the student's grades in classes that are
// currently Final. Visibility is derived on every read.
func (r *ClassApprovalRepository) VisibleGradesForStudent(ctx context.Context, studentID string) ([]models.VisibleGrade, error) {
	const query = `SELECT g.class_approval_id, ca.pc_id, g.grade, g.remarks, ca.updated_at AS finalized_at
FROM class_grade_records g
JOIN class_approvals ca ON ca.id = g.class_approval_id
WHERE g.student_id = $1 AND ca.status = $2
ORDER BY ca.updated_at DESC`
	var grades []models.VisibleGrade
	if err := r.db.SelectContext(ctx, &grades, query, studentID, string(models.ClassApprovalFinal)); err != nil {
		return nil, fmt.Errorf("list visible grades: %w", err)
	}
	return grades, nil
}

func lockClassApproval(ctx context.Context, tx *sqlx.Tx, id string) (*models.ClassApproval, error) {
	query := `SELECT ` + classApprovalColumns + ` FROM class_approvals WHERE id = $1 FOR UPDATE`
	var ca models.ClassApproval
	if err := tx.GetContext(ctx, &ca, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock class approval: %w", err)
	}
	return &ca, nil
}

// PeekSnapshot reads the approval without locking.
func (r *ClassApprovalRepository) PeekSnapshot(ctx context.Context, id string) (*workflow.Snapshot, error) {
	ca, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return classApprovalSnapshot(ca), nil
}

// LockSnapshot implements the workflow store contract.
func (r *ClassApprovalRepository) LockSnapshot(ctx context.Context, tx *sqlx.Tx, id string) (*workflow.Snapshot, error) {
	ca, err := lockClassApproval(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return classApprovalSnapshot(ca), nil
}

func classApprovalSnapshot(ca *models.ClassApproval) *workflow.Snapshot {
	return &workflow.Snapshot{
		Type:                     workflow.TypeClassApproval,
		EntityID:                 ca.ID,
		OwnerID:                  ca.InstructorID,
		Status:                   workflow.Status(ca.Status),
		Version:                  ca.Version,
		Cycle:                    ca.Cycle,
		ProgramHeadApprovedCycle: ca.ProgramHeadApprovedCycle,
		DeanApprovedCycle:        ca.DeanApprovedCycle,
	}
}

// SaveSnapshot writes status, cycle and approval markers when the stored
// version still matches.
func (r *ClassApprovalRepository) SaveSnapshot(ctx context.Context, tx *sqlx.Tx, prev, next workflow.Snapshot) error {
	const query = `UPDATE class_approvals SET status = $1, version = $2, cycle = $3, program_head_approved_cycle = $4, dean_approved_cycle = $5, updated_at = $6 WHERE id = $7 AND version = $8`
	res, err := tx.ExecContext(ctx, query,
		string(next.Status),
		next.Version,
		next.Cycle,
		next.ProgramHeadApprovedCycle,
		next.DeanApprovedCycle,
		time.Now().UTC(),
		prev.EntityID,
		prev.Version,
	)
	if err != nil {
		return fmt.Errorf("update class approval status: %w", err)
	}
	return expectOneRow(res, "class approval")
}
