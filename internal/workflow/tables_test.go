package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

func TestReachableMatchesDeclaredEdges(t *testing.T) {
	cases := map[Type]map[Status][]Status{
		TypeEnrollment: {
			"Registered":         {"Pending"},
			"Pending":            {"Verified", "Rejected"},
			"Verified":           {"ForPayment", "Rejected"},
			"ForPayment":         {"OfficiallyEnrolled"},
			"OfficiallyEnrolled": {},
			"Rejected":           {},
		},
		TypeClassApproval: {
			"Pending":             {"ProgramHeadApproved", "Rejected"},
			"ProgramHeadApproved": {"DeanApproved", "Rejected"},
			"DeanApproved":        {"Final", "Rejected"},
			"Final":               {},
			"Rejected":            {},
		},
		TypeCreditTransfer: {
			"pending":               {"program_head_reviewed"},
			"program_head_reviewed": {"registrar_approved", "rejected"},
			"registrar_approved":    {},
			"rejected":              {},
		},
	}

	for typ, expected := range cases {
		table := MustLookup(typ)
		require.Len(t, table.Statuses(), len(expected), "status count for %s", typ)
		for _, from := range table.Statuses() {
			want, ok := expected[from]
			require.True(t, ok, "%s status %s undeclared in test", typ, from)
			assert.ElementsMatch(t, want, table.Reachable(from), "%s from %s", typ, from)
			assert.Equal(t, len(want) == 0, table.Terminal(from), "%s terminal %s", typ, from)

			for _, to := range table.Statuses() {
				_, has := table.Edge(from, to)
				assert.Equal(t, contains(want, to), has, "%s edge %s->%s", typ, from, to)
			}
		}
	}
}

func TestEveryEdgeHasRoles(t *testing.T) {
	for _, typ := range Types {
		for _, edge := range MustLookup(typ).Edges() {
			assert.NotEmpty(t, edge.Roles, "%s %s->%s", typ, edge.From, edge.To)
		}
	}
}

func TestLookupUnknownType(t *testing.T) {
	_, err := Lookup("library_loan")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEnrollmentBalanceGuard(t *testing.T) {
	table := MustLookup(TypeEnrollment)
	finance := Actor{UserID: "fin-1", Role: models.RoleFinance}
	snap := Snapshot{Type: TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "ForPayment", Version: 4}

	snap.BalanceCents = 1
	_, err := table.Resolve(snap, "OfficiallyEnrolled", finance)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))
	assert.Contains(t, err.Error(), "outstanding balance of PHP 0.01")

	snap.BalanceCents = 50000
	_, err = table.Resolve(snap, "OfficiallyEnrolled", finance)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHP 500.00")

	snap.BalanceCents = 0
	edge, err := table.Resolve(snap, "OfficiallyEnrolled", finance)
	require.NoError(t, err)
	next := edge.Apply(snap)
	assert.Equal(t, Status("OfficiallyEnrolled"), next.Status)
	assert.Equal(t, int64(5), next.Version)

	snap.BalanceCents = -2000
	_, err = table.Resolve(snap, "OfficiallyEnrolled", SystemActor)
	assert.NoError(t, err)
}

func TestEnrollmentSubmitSelfService(t *testing.T) {
	table := MustLookup(TypeEnrollment)
	snap := Snapshot{Type: TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Registered", DocumentsComplete: true}

	_, err := table.Resolve(snap, "Pending", Actor{UserID: "stu-1", Role: models.RoleStudent})
	assert.NoError(t, err)

	_, err = table.Resolve(snap, "Pending", Actor{UserID: "stu-2", Role: models.RoleStudent})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = table.Resolve(snap, "Pending", Actor{UserID: "reg-1", Role: models.RoleRegistrar})
	assert.NoError(t, err)
}

func TestEnrollmentSubmitRequiresDocuments(t *testing.T) {
	table := MustLookup(TypeEnrollment)
	snap := Snapshot{Type: TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Registered"}

	_, err := table.Resolve(snap, "Pending", Actor{UserID: "stu-1", Role: models.RoleStudent})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))
	assert.Contains(t, err.Error(), "required documents not submitted")

	// ownership is checked before documents
	_, err = table.Resolve(snap, "Pending", Actor{UserID: "stu-2", Role: models.RoleStudent})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestEnrollmentRejectedOnlyFromReview(t *testing.T) {
	table := MustLookup(TypeEnrollment)
	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	for _, from := range []Status{"Registered", "ForPayment", "OfficiallyEnrolled", "Rejected"} {
		_, err := table.Resolve(Snapshot{Status: from, OwnerID: "stu-1"}, "Rejected", registrar)
		require.Error(t, err, from)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition), from)
	}
}

func TestResolveOrdering(t *testing.T) {
	table := MustLookup(TypeEnrollment)
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	_, err := table.Resolve(Snapshot{Status: "Pending", OwnerID: "stu-1"}, "Archived", student)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	// an illegal edge is reported before the role check
	_, err = table.Resolve(Snapshot{Status: "Pending", OwnerID: "stu-1"}, "OfficiallyEnrolled", student)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	// the role check runs before guards
	_, err = table.Resolve(Snapshot{Status: "ForPayment", OwnerID: "stu-1", BalanceCents: 100}, "OfficiallyEnrolled", student)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestClassApprovalRejectLoopRevokesApprovals(t *testing.T) {
	table := MustLookup(TypeClassApproval)
	head := Actor{UserID: "ph-1", Role: models.RoleProgramHead}
	dean := Actor{UserID: "dean-1", Role: models.RoleDean}

	snap := Snapshot{Type: TypeClassApproval, EntityID: "ca-1", OwnerID: "ins-1", Status: "Pending", Cycle: 1, Version: 1}

	edge, err := table.Resolve(snap, "ProgramHeadApproved", head)
	require.NoError(t, err)
	snap = edge.Apply(snap)
	require.NotNil(t, snap.ProgramHeadApprovedCycle)
	assert.Equal(t, 1, *snap.ProgramHeadApprovedCycle)

	edge, err = table.Resolve(snap, "Rejected", dean)
	require.NoError(t, err)
	assert.Equal(t, Status("Pending"), edge.Committed())
	snap = edge.Apply(snap)
	assert.Equal(t, Status("Pending"), snap.Status)
	assert.Equal(t, 2, snap.Cycle)
	assert.Nil(t, snap.ProgramHeadApprovedCycle)
	assert.Nil(t, snap.DeanApprovedCycle)
	assert.Equal(t, int64(3), snap.Version)

	// a stale approval from an earlier cycle does not satisfy the dean guard
	stale := 1
	forged := snap
	forged.Status = "ProgramHeadApproved"
	forged.ProgramHeadApprovedCycle = &stale
	_, err = table.Resolve(forged, "DeanApproved", dean)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))

	edge, err = table.Resolve(snap, "ProgramHeadApproved", head)
	require.NoError(t, err)
	snap = edge.Apply(snap)
	edge, err = table.Resolve(snap, "DeanApproved", dean)
	require.NoError(t, err)
	snap = edge.Apply(snap)
	require.NotNil(t, snap.DeanApprovedCycle)
	assert.Equal(t, 2, *snap.DeanApprovedCycle)

	edge, err = table.Resolve(snap, "Final", dean)
	require.NoError(t, err)
	snap = edge.Apply(snap)
	assert.Equal(t, Status("Final"), snap.Status)

	_, err = table.Resolve(snap, "Rejected", dean)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestClassApprovalRoles(t *testing.T) {
	table := MustLookup(TypeClassApproval)
	snap := Snapshot{Status: "Pending", OwnerID: "ins-1", Cycle: 1}

	_, err := table.Resolve(snap, "ProgramHeadApproved", Actor{UserID: "dean-1", Role: models.RoleDean})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = table.Resolve(snap, "ProgramHeadApproved", Actor{UserID: "ins-1", Role: models.RoleInstructor})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = table.Resolve(snap, "Rejected", Actor{UserID: "ph-1", Role: models.RoleProgramHead})
	assert.NoError(t, err)
}

func TestCreditTransferGuards(t *testing.T) {
	table := MustLookup(TypeCreditTransfer)
	head := Actor{UserID: "ph-1", Role: models.RoleProgramHead}
	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	complete := models.CourseEquivalency{
		ID:                 "eq-1",
		ExternalCode:       "MATH101",
		ExternalName:       "College Algebra",
		ExternalGrade:      "1.75",
		ExternalUnits:      3,
		SourceSchool:       "State University",
		SourceAcademicYear: "2023-2024",
		EquivalentCourseID: "crs-math1",
	}

	snap := Snapshot{Type: TypeCreditTransfer, EntityID: "tor-1", OwnerID: "stu-1", Status: "pending"}
	_, err := table.Resolve(snap, "program_head_reviewed", head)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))

	incomplete := complete
	incomplete.SourceSchool = " "
	snap.Equivalencies = []models.CourseEquivalency{incomplete}
	edge, err := table.Resolve(snap, "program_head_reviewed", head)
	require.NoError(t, err)
	snap = edge.Apply(snap)

	_, err = table.Resolve(snap, "registrar_approved", registrar)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))
	assert.Contains(t, err.Error(), "incomplete equivalency")
	assert.Contains(t, err.Error(), "source_school")

	snap.Equivalencies = nil
	_, err = table.Resolve(snap, "registrar_approved", registrar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no equivalencies")

	snap.Equivalencies = []models.CourseEquivalency{complete}
	edge, err = table.Resolve(snap, "registrar_approved", registrar)
	require.NoError(t, err)
	assert.Equal(t, Status("registrar_approved"), edge.Apply(snap).Status)

	_, err = table.Resolve(snap, "registrar_approved", head)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestFormatCentavos(t *testing.T) {
	assert.Equal(t, "PHP 0.01", FormatCentavos(1))
	assert.Equal(t, "PHP 15,000.00", FormatCentavos(1500000))
	assert.Equal(t, "PHP 1,234,567.89", FormatCentavos(123456789))
	assert.Equal(t, "-PHP 20.00", FormatCentavos(-2000))
}

func TestEventPath(t *testing.T) {
	evt := Event{From: "DeanApproved", Requested: "Rejected", To: "Pending"}
	assert.True(t, evt.Passed("Rejected"))
	assert.True(t, evt.Left("DeanApproved"))
	assert.False(t, evt.Passed("Final"))
}

func contains(list []Status, s Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
