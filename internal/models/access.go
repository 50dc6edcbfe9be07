package models

import "time"

// StudentFeature names the portal features gated by official enrollment.
type StudentFeature string

const (
	FeatureAcademicRecords  StudentFeature = "academic_records"
	FeatureDocumentRequests StudentFeature = "document_requests"
	FeatureCourseList       StudentFeature = "course_list"
)

// GatedFeatures lists every feature unlocked by official enrollment.
var GatedFeatures = []StudentFeature{FeatureAcademicRecords, FeatureDocumentRequests, FeatureCourseList}

// StudentFeatureAccess is the per-student unlock flag written by the enrollment cascade.
type StudentFeatureAccess struct {
	StudentID    string    `db:"student_id" json:"student_id"`
	Unlocked     bool      `db:"unlocked" json:"unlocked"`
	EnrollmentID *string   `db:"enrollment_id" json:"enrollment_id,omitempty"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AccessView is the read model served to the student portal.
type AccessView struct {
	StudentID    string                  `json:"student_id"`
	Unlocked     bool                    `json:"unlocked"`
	EnrollmentID *string                 `json:"enrollment_id,omitempty"`
	Features     map[StudentFeature]bool `json:"features"`
	UpdatedAt    time.Time               `json:"updated_at"`
}
