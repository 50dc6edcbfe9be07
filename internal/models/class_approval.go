package models

import "time"

// ClassApprovalStatus tracks a class's grade approval pipeline.
type ClassApprovalStatus string

const (
	ClassApprovalPending             ClassApprovalStatus = "Pending"
	ClassApprovalProgramHeadApproved ClassApprovalStatus = "ProgramHeadApproved"
	ClassApprovalDeanApproved        ClassApprovalStatus = "DeanApproved"
	ClassApprovalFinal               ClassApprovalStatus = "Final"
	ClassApprovalRejected            ClassApprovalStatus = "Rejected"
)

// ClassApproval is the approval record for one course offering and instructor
// assignment. Cycle increments on every rejection; the approval markers hold
// the cycle in which each approval was granted.
type ClassApproval struct {
	ID                       string              `db:"id" json:"id"`
	CourseOfferingID         string              `db:"pc_id" json:"pc_id"`
	InstructorID             string              `db:"instructor_id" json:"instructor_id"`
	Status                   ClassApprovalStatus `db:"status" json:"status"`
	Version                  int64               `db:"version" json:"version"`
	Cycle                    int                 `db:"cycle" json:"cycle"`
	ProgramHeadApprovedCycle *int                `db:"program_head_approved_cycle" json:"program_head_approved_cycle,omitempty"`
	DeanApprovedCycle        *int                `db:"dean_approved_cycle" json:"dean_approved_cycle,omitempty"`
	CreatedAt                time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time           `db:"updated_at" json:"updated_at"`
}

// ClassApprovalCounts is the read-only projection over a class's grade records.
type ClassApprovalCounts struct {
	Graded            int `db:"graded" json:"graded"`
	RegistrarApproved int `db:"registrar_approved" json:"registrar_approved"`
}

// ClassApprovalView combines an approval with its projection.
type ClassApprovalView struct {
	ClassApproval
	Counts ClassApprovalCounts `json:"counts"`
}

// ClassGradeRecord is one student's grade within a class approval.
type ClassGradeRecord struct {
	ID                string    `db:"id" json:"id"`
	ClassApprovalID   string    `db:"class_approval_id" json:"class_approval_id"`
	StudentID         string    `db:"student_id" json:"student_id"`
	Grade             *string   `db:"grade" json:"grade,omitempty"`
	Remarks           *string   `db:"remarks" json:"remarks,omitempty"`
	RegistrarApproved bool      `db:"registrar_approved" json:"registrar_approved"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// VisibleGrade is a grade the owning student is allowed to see.
type VisibleGrade struct {
	ClassApprovalID  string    `db:"class_approval_id" json:"class_approval_id"`
	CourseOfferingID string    `db:"pc_id" json:"pc_id"`
	Grade            *string   `db:"grade" json:"grade,omitempty"`
	Remarks          *string   `db:"remarks" json:"remarks,omitempty"`
	FinalizedAt      time.Time `db:"finalized_at" json:"finalized_at"`
}
