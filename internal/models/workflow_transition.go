package models

import "time"

// WorkflowTransition is the audit row written in the same transaction as a
// committed status change. CascadedAt is set once every cascade step for the
// transition has succeeded.
type WorkflowTransition struct {
	ID              string     `db:"id" json:"id"`
	WorkflowType    string     `db:"workflow_type" json:"workflow_type"`
	EntityID        string     `db:"entity_id" json:"entity_id"`
	OwnerID         string     `db:"owner_id" json:"owner_id"`
	FromStatus      string     `db:"from_status" json:"from_status"`
	ToStatus        string     `db:"to_status" json:"to_status"`
	RequestedStatus string     `db:"requested_status" json:"requested_status"`
	ActorID         string     `db:"actor_id" json:"actor_id"`
	ActorRole       UserRole   `db:"actor_role" json:"actor_role"`
	Version         int64      `db:"version" json:"version"`
	CommittedAt     time.Time  `db:"committed_at" json:"committed_at"`
	CascadedAt      *time.Time `db:"cascaded_at" json:"cascaded_at,omitempty"`
}
