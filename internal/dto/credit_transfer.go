package dto

// CreateCreditTransferRequest opens a TOR evaluation. StudentID is only
// honoured for registrar staff filing on a student's behalf.
type CreateCreditTransferRequest struct {
	StudentID string `json:"student_id,omitempty"`
}

// EquivalencyRequest adds or replaces an equivalency row. Fields may be left
// blank while mapping is in progress; approval requires them all.
type EquivalencyRequest struct {
	ExternalCode       string  `json:"external_code" validate:"max=32"`
	ExternalName       string  `json:"external_name" validate:"max=255"`
	ExternalGrade      string  `json:"external_grade" validate:"max=8"`
	ExternalUnits      float64 `json:"external_units" validate:"gte=0,lte=12"`
	SourceSchool       string  `json:"source_school" validate:"max=255"`
	SourceAcademicYear string  `json:"source_academic_year" validate:"max=9"`
	EquivalentCourseID string  `json:"equivalent_course_id" validate:"max=64"`
}
