package dto

import "time"

// TransitionRequest asks the engine to move an entity to a new status.
// ExpectedStatus, when set, must match the locked current status.
type TransitionRequest struct {
	EntityID        string `json:"entity_id" validate:"required"`
	WorkflowType    string `json:"workflow_type" validate:"required,oneof=enrollment class_approval credit_transfer"`
	RequestedStatus string `json:"requested_status" validate:"required"`
	ExpectedStatus  string `json:"expected_status,omitempty"`
}

// TransitionResponse reports a committed transition.
type TransitionResponse struct {
	TransitionID    string    `json:"transition_id"`
	EntityID        string    `json:"entity_id"`
	WorkflowType    string    `json:"workflow_type"`
	PreviousStatus  string    `json:"previous_status"`
	RequestedStatus string    `json:"requested_status"`
	NewStatus       string    `json:"new_status"`
	Version         int64     `json:"version"`
	CommittedAt     time.Time `json:"committed_at"`
}

// EdgeView describes one edge of a static workflow table.
type EdgeView struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Roles       []string `json:"roles"`
	SelfService bool     `json:"self_service"`
	Guarded     bool     `json:"guarded"`
	SettlesTo   string   `json:"settles_to,omitempty"`
}

// WorkflowTableResponse lists a workflow's statuses and edges.
type WorkflowTableResponse struct {
	WorkflowType string     `json:"workflow_type"`
	Initial      string     `json:"initial"`
	Statuses     []string   `json:"statuses"`
	Terminal     []string   `json:"terminal"`
	Edges        []EdgeView `json:"edges"`
}

// AvailableTransition is an edge the caller's role may take. BlockedReason
// carries the guard that would currently fail, if any.
type AvailableTransition struct {
	To            string `json:"to"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// AvailableTransitionsResponse lists the caller's options from the current status.
type AvailableTransitionsResponse struct {
	EntityID      string                `json:"entity_id"`
	WorkflowType  string                `json:"workflow_type"`
	CurrentStatus string                `json:"current_status"`
	Version       int64                 `json:"version"`
	Transitions   []AvailableTransition `json:"transitions"`
}
