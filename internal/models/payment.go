package models

import "time"

// Fee is an assessed charge against an enrollment.
type Fee struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Description  string    `db:"description" json:"description"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	AssessedBy   string    `db:"assessed_by" json:"assessed_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Payment is a finance-recorded payment against an enrollment.
type Payment struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	Reference    string    `db:"reference" json:"reference"`
	RecordedBy   string    `db:"recorded_by" json:"recorded_by"`
	PaidAt       time.Time `db:"paid_at" json:"paid_at"`
}

// Balance summarises assessed and paid amounts in centavos.
type Balance struct {
	AssessedCents int64 `db:"assessed_cents" json:"assessed_cents"`
	PaidCents     int64 `db:"paid_cents" json:"paid_cents"`
}

// OutstandingCents is assessed minus paid.
func (b Balance) OutstandingCents() int64 {
	return b.AssessedCents - b.PaidCents
}
