package dto

import (
	"time"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// CreateEnrollmentRequest registers a student for a term. StudentID is only
// honoured for registrar staff registering on a student's behalf.
type CreateEnrollmentRequest struct {
	StudentID    string `json:"student_id,omitempty"`
	AcademicYear string `json:"academic_year" validate:"required,len=9"`
	Semester     int    `json:"semester" validate:"required,min=1,max=3"`
	ProgramID    string `json:"program_id" validate:"required"`
	YearLevel    int    `json:"year_level" validate:"required,min=1,max=6"`
}

// AssessFeeRequest adds a charge to an enrollment.
type AssessFeeRequest struct {
	Description string `json:"description" validate:"required,max=255"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

// RecordPaymentRequest records a payment received by finance.
type RecordPaymentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"required,max=64"`
}

// PaymentResult is returned after a payment is recorded. Transition is set
// when the payment settled the balance and the enrollment became official.
type PaymentResult struct {
	Payment    models.Payment        `json:"payment"`
	Enrollment models.EnrollmentView `json:"enrollment"`
	Transition *TransitionResponse   `json:"transition,omitempty"`
}

// LedgerResponse lists fees and payments with the derived balance.
type LedgerResponse struct {
	EnrollmentID string           `json:"enrollment_id"`
	Fees         []models.Fee     `json:"fees"`
	Payments     []models.Payment `json:"payments"`
	Balance      models.Balance   `json:"balance"`
	BalanceCents int64            `json:"balance_cents"`
}

// DocumentLink is a time-limited download link for a stored document.
type DocumentLink struct {
	Kind        string    `json:"kind"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}
