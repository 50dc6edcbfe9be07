package workflow

import (
	"fmt"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

var tables = map[Type]*Table{
	TypeEnrollment:     enrollmentTable(),
	TypeClassApproval:  classApprovalTable(),
	TypeCreditTransfer: creditTransferTable(),
}

// Lookup returns the table for typ.
func Lookup(typ Type) (*Table, error) {
	t, ok := tables[typ]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown workflow type %q", typ))
	}
	return t, nil
}

// MustLookup is Lookup for the package's own workflow constants.
func MustLookup(typ Type) *Table {
	t, err := Lookup(typ)
	if err != nil {
		panic(err)
	}
	return t
}

func roles(r ...models.UserRole) []models.UserRole { return r }

func enrollmentTable() *Table {
	var (
		registered = Status(models.EnrollmentStatusRegistered)
		pending    = Status(models.EnrollmentStatusPending)
		verified   = Status(models.EnrollmentStatusVerified)
		forPayment = Status(models.EnrollmentStatusForPayment)
		enrolled   = Status(models.EnrollmentStatusOfficiallyEnrolled)
		rejected   = Status(models.EnrollmentStatusRejected)
	)
	registrar := roles(models.RoleRegistrar)

	return newTable(TypeEnrollment, registered, registered, pending, verified, forPayment, enrolled, rejected).
		permit(Edge{
			From:        registered,
			To:          pending,
			Roles:       registrar,
			SelfService: true,
			Guards:      []GuardFunc{documentsSubmitted},
		}).
		permit(Edge{From: pending, To: verified, Roles: registrar}).
		permit(Edge{From: pending, To: rejected, Roles: registrar}).
		permit(Edge{From: verified, To: forPayment, Roles: roles(models.RoleRegistrar, models.RoleSystem)}).
		permit(Edge{From: verified, To: rejected, Roles: registrar}).
		permit(Edge{
			From:   forPayment,
			To:     enrolled,
			Roles:  roles(models.RoleFinance, models.RoleSystem),
			Guards: []GuardFunc{balanceSettled},
		})
}

func classApprovalTable() *Table {
	var (
		pending     = Status(models.ClassApprovalPending)
		programHead = Status(models.ClassApprovalProgramHeadApproved)
		dean        = Status(models.ClassApprovalDeanApproved)
		final       = Status(models.ClassApprovalFinal)
		rejected    = Status(models.ClassApprovalRejected)
	)
	deanOrHead := roles(models.RoleDean, models.RoleProgramHead)
	reject := func(from Status) Edge {
		return Edge{From: from, To: rejected, Roles: deanOrHead, Effect: resetApprovalCycle, Settle: pending}
	}

	return newTable(TypeClassApproval, pending, pending, programHead, dean, final, rejected).
		permit(Edge{
			From:   pending,
			To:     programHead,
			Roles:  roles(models.RoleProgramHead),
			Effect: markProgramHeadApproval,
		}).
		permit(Edge{
			From:   programHead,
			To:     dean,
			Roles:  roles(models.RoleDean),
			Guards: []GuardFunc{programHeadApprovedThisCycle},
			Effect: markDeanApproval,
		}).
		permit(Edge{From: dean, To: final, Roles: roles(models.RoleDean)}).
		permit(reject(pending)).
		permit(reject(programHead)).
		permit(reject(dean))
}

func creditTransferTable() *Table {
	var (
		pending  = Status(models.CreditTransferPending)
		reviewed = Status(models.CreditTransferProgramHeadReviewed)
		approved = Status(models.CreditTransferRegistrarApproved)
		rejected = Status(models.CreditTransferRejected)
	)

	return newTable(TypeCreditTransfer, pending, pending, reviewed, approved, rejected).
		permit(Edge{
			From:   pending,
			To:     reviewed,
			Roles:  roles(models.RoleProgramHead),
			Guards: []GuardFunc{hasEquivalencies},
		}).
		permit(Edge{
			From:   reviewed,
			To:     approved,
			Roles:  roles(models.RoleRegistrar),
			Guards: []GuardFunc{hasEquivalencies, equivalenciesComplete},
		}).
		permit(Edge{From: reviewed, To: rejected, Roles: roles(models.RoleRegistrar)})
}

func markProgramHeadApproval(s *Snapshot) {
	cycle := s.Cycle
	s.ProgramHeadApprovedCycle = &cycle
}

func markDeanApproval(s *Snapshot) {
	cycle := s.Cycle
	s.DeanApprovedCycle = &cycle
}

func resetApprovalCycle(s *Snapshot) {
	s.Cycle++
	s.ProgramHeadApprovedCycle = nil
	s.DeanApprovedCycle = nil
}
