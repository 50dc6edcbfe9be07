package models

import "time"

// EnrollmentStatus represents the lifecycle of a term enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusRegistered         EnrollmentStatus = "Registered"
	EnrollmentStatusPending            EnrollmentStatus = "Pending"
	EnrollmentStatusVerified           EnrollmentStatus = "Verified"
	EnrollmentStatusForPayment         EnrollmentStatus = "ForPayment"
	EnrollmentStatusOfficiallyEnrolled EnrollmentStatus = "OfficiallyEnrolled"
	EnrollmentStatusRejected           EnrollmentStatus = "Rejected"
)

// DocumentKind names the documents a student submits for enrollment.
type DocumentKind string

const (
	DocumentIDPhoto          DocumentKind = "id_photo"
	DocumentBirthCertificate DocumentKind = "birth_certificate"
	DocumentForm137          DocumentKind = "form137"
)

// DocumentKinds lists every enrollment document in display order.
var DocumentKinds = []DocumentKind{DocumentIDPhoto, DocumentBirthCertificate, DocumentForm137}

// Enrollment is one student registration for an academic year and semester.
type Enrollment struct {
	ID                 string           `db:"id" json:"id"`
	StudentID          string           `db:"student_id" json:"student_id"`
	AcademicYear       string           `db:"academic_year" json:"academic_year"`
	Semester           int              `db:"semester" json:"semester"`
	ProgramID          string           `db:"program_id" json:"program_id"`
	YearLevel          int              `db:"year_level" json:"year_level"`
	Status             EnrollmentStatus `db:"status" json:"status"`
	Version            int64            `db:"version" json:"version"`
	IDPhotoSubmitted   bool             `db:"id_photo_submitted" json:"id_photo_submitted"`
	IDPhotoRef         *string          `db:"id_photo_ref" json:"-"`
	BirthCertSubmitted bool             `db:"birth_certificate_submitted" json:"birth_certificate_submitted"`
	BirthCertRef       *string          `db:"birth_certificate_ref" json:"-"`
	Form137Submitted   bool             `db:"form137_submitted" json:"form137_submitted"`
	Form137Ref         *string          `db:"form137_ref" json:"-"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// DocumentRef returns the stored reference for kind, if any.
func (e *Enrollment) DocumentRef(kind DocumentKind) *string {
	switch kind {
	case DocumentIDPhoto:
		return e.IDPhotoRef
	case DocumentBirthCertificate:
		return e.BirthCertRef
	case DocumentForm137:
		return e.Form137Ref
	}
	return nil
}

// DocumentsComplete reports whether every required document is present.
func (e *Enrollment) DocumentsComplete() bool {
	return e.IDPhotoSubmitted && e.BirthCertSubmitted && e.Form137Submitted
}

// EnrollmentView decorates an enrollment with its derived balance.
type EnrollmentView struct {
	Enrollment
	AssessedCents int64 `json:"assessed_cents"`
	PaidCents     int64 `json:"paid_cents"`
	BalanceCents  int64 `json:"balance_cents"`
}
