package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// PaymentRepository appends assessed fees and recorded payments. Both writes
// take the enrollment row lock so they serialise with status transitions that
// read the balance.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// AssessFee adds a charge and returns the enrollment with its new balance.
func (r *PaymentRepository) AssessFee(ctx context.Context, fee *models.Fee, check func(*models.Enrollment) error) (*models.Enrollment, models.Balance, error) {
	const query = `INSERT INTO enrollment_fees (id, enrollment_id, description, amount_cents, assessed_by, created_at)
VALUES (:id, :enrollment_id, :description, :amount_cents, :assessed_by, :created_at)`
	return r.appendLocked(ctx, fee.EnrollmentID, check, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, fee); err != nil {
			return fmt.Errorf("insert enrollment fee: %w", err)
		}
		return nil
	})
}

// RecordPayment appends a payment and returns the enrollment with its new
// balance. A reused reference yields ErrDuplicate.
func (r *PaymentRepository) RecordPayment(ctx context.Context, payment *models.Payment, check func(*models.Enrollment) error) (*models.Enrollment, models.Balance, error) {
	const query = `INSERT INTO enrollment_payments (id, enrollment_id, amount_cents, reference, recorded_by, paid_at)
VALUES (:id, :enrollment_id, :amount_cents, :reference, :recorded_by, :paid_at)`
	return r.appendLocked(ctx, payment.EnrollmentID, check, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert enrollment payment: %w", err)
		}
		return nil
	})
}

func (r *PaymentRepository) appendLocked(ctx context.Context, enrollmentID string, check func(*models.Enrollment) error, insert func(tx *sqlx.Tx) error) (*models.Enrollment, models.Balance, error) {
	var (
		enrollment *models.Enrollment
		balance    models.Balance
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		enrollment, err = lockEnrollment(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(enrollment); err != nil {
				return err
			}
		}
		if err := insert(tx); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &balance, balanceQuery, enrollmentID); err != nil {
			return fmt.Errorf("enrollment balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, models.Balance{}, mapConflict(err)
	}
	return enrollment, balance, nil
}

// ListFees returns the fees assessed against an enrollment.
func (r *PaymentRepository) ListFees(ctx context.Context, enrollmentID string) ([]models.Fee, error) {
	const query = `SELECT id, enrollment_id, description, amount_cents, assessed_by, created_at FROM enrollment_fees WHERE enrollment_id = $1 ORDER BY created_at ASC`
	var fees []models.Fee
	if err := r.db.SelectContext(ctx, &fees, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment fees: %w", err)
	}
	return fees, nil
}

// ListPayments returns the payments recorded against an enrollment.
func (r *PaymentRepository) ListPayments(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	const query = `SELECT id, enrollment_id, amount_cents, reference, recorded_by, paid_at FROM enrollment_payments WHERE enrollment_id = $1 ORDER BY paid_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}
