package models

import (
	"strings"
	"time"
)

// CreditTransferStatus tracks a transcript-of-records evaluation.
type CreditTransferStatus string

const (
	CreditTransferPending             CreditTransferStatus = "pending"
	CreditTransferProgramHeadReviewed CreditTransferStatus = "program_head_reviewed"
	CreditTransferRegistrarApproved   CreditTransferStatus = "registrar_approved"
	CreditTransferRejected            CreditTransferStatus = "rejected"
)

// CreditTransferRequest is a student's request to credit external coursework.
type CreditTransferRequest struct {
	ID            string               `db:"id" json:"id"`
	StudentID     string               `db:"student_id" json:"student_id"`
	TranscriptRef *string              `db:"transcript_ref" json:"-"`
	Status        CreditTransferStatus `db:"status" json:"status"`
	Version       int64                `db:"version" json:"version"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

// Editable reports whether equivalency rows may still change.
func (r *CreditTransferRequest) Editable() bool {
	return r.Status == CreditTransferPending || r.Status == CreditTransferProgramHeadReviewed
}

// CourseEquivalency maps one external course onto an internal course.
type CourseEquivalency struct {
	ID                 string    `db:"id" json:"id"`
	RequestID          string    `db:"request_id" json:"request_id"`
	ExternalCode       string    `db:"external_code" json:"external_code"`
	ExternalName       string    `db:"external_name" json:"external_name"`
	ExternalGrade      string    `db:"external_grade" json:"external_grade"`
	ExternalUnits      float64   `db:"external_units" json:"external_units"`
	SourceSchool       string    `db:"source_school" json:"source_school"`
	SourceAcademicYear string    `db:"source_academic_year" json:"source_academic_year"`
	EquivalentCourseID string    `db:"equivalent_course_id" json:"equivalent_course_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// MissingFields lists the required fields that are blank.
func (e CourseEquivalency) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("external_code", e.ExternalCode)
	check("external_name", e.ExternalName)
	check("external_grade", e.ExternalGrade)
	check("equivalent_course_id", e.EquivalentCourseID)
	check("source_school", e.SourceSchool)
	check("source_academic_year", e.SourceAcademicYear)
	return missing
}

// CreditTransferView is a request with its equivalency rows.
type CreditTransferView struct {
	CreditTransferRequest
	Equivalencies []CourseEquivalency `json:"equivalencies"`
}

// AcademicCredit is a permanent credit committed from an approved equivalency.
type AcademicCredit struct {
	ID            string    `db:"id" json:"id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	EquivalencyID string    `db:"equivalency_id" json:"equivalency_id"`
	RequestID     string    `db:"request_id" json:"request_id"`
	Grade         string    `db:"grade" json:"grade"`
	Units         float64   `db:"units" json:"units"`
	SourceSchool  string    `db:"source_school" json:"source_school"`
	CreditedAt    time.Time `db:"credited_at" json:"credited_at"`
}
