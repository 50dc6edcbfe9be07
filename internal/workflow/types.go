// Package workflow holds the static state tables for the portal's approval
// workflows together with the role gate and edge guards evaluated against a
// locked entity snapshot. Nothing in this package performs I/O.
package workflow

import (
	"time"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// Type identifies a workflow.
type Type string

const (
	TypeEnrollment     Type = "enrollment"
	TypeClassApproval  Type = "class_approval"
	TypeCreditTransfer Type = "credit_transfer"
)

// Types lists every workflow in a stable order.
var Types = []Type{TypeEnrollment, TypeClassApproval, TypeCreditTransfer}

// Status is a workflow status value; each workflow defines its own set.
type Status string

// Actor is the authenticated user, or the system, requesting a change.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// SystemActor is used by internal flows such as payment confirmation.
var SystemActor = Actor{UserID: "system", Role: models.RoleSystem}

// ActorFromClaims converts token claims into an Actor.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

// Snapshot is the state of one workflow entity as read under its row lock.
// Only the fields relevant to the entity's workflow are populated.
type Snapshot struct {
	Type     Type
	EntityID string
	OwnerID  string
	Status   Status
	Version  int64

	// class approval
	Cycle                    int
	ProgramHeadApprovedCycle *int
	DeanApprovedCycle        *int

	// enrollment
	BalanceCents      int64
	DocumentsComplete bool

	// credit transfer
	Equivalencies []models.CourseEquivalency
}

// Decision is what the engine asks the store to persist for a locked snapshot.
type Decision struct {
	Next      Snapshot
	Requested Status
	Actor     Actor
}

// Event describes a committed transition handed to the cascade dispatcher.
type Event struct {
	ID          string
	Type        Type
	EntityID    string
	OwnerID     string
	From        Status
	To          Status
	Requested   Status
	Actor       Actor
	Version     int64
	CommittedAt time.Time
}

// Passed reports whether the committed path went through s, including an
// implicit intermediate status such as a rejection that settles back to
// pending.
func (e Event) Passed(s Status) bool {
	return e.To == s || e.Requested == s
}

// Left reports whether the transition moved away from s.
func (e Event) Left(s Status) bool {
	return e.From == s && e.To != s
}
