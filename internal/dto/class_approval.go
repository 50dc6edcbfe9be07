package dto

// CreateClassApprovalRequest opens the approval for an instructor assignment.
type CreateClassApprovalRequest struct {
	CourseOfferingID string `json:"pc_id" validate:"required"`
	InstructorID     string `json:"instructor_id" validate:"required"`
}

// GradeEntry is one student's grade.
type GradeEntry struct {
	StudentID string  `json:"student_id" validate:"required"`
	Grade     *string `json:"grade" validate:"omitempty,max=8"`
	Remarks   *string `json:"remarks" validate:"omitempty,max=255"`
}

// UpsertGradesRequest writes grades for a class.
type UpsertGradesRequest struct {
	Grades []GradeEntry `json:"grades" validate:"required,min=1,dive"`
}

// RegistrarApprovalRequest sets the registrar flag on a student's grade.
type RegistrarApprovalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}
