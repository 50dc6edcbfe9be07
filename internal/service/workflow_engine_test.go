package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// memoryWorkflowStore serialises Mutate on a mutex, standing in for the row lock.
type memoryWorkflowStore struct {
	mu      sync.Mutex
	snaps   map[string]workflow.Snapshot
	history []models.WorkflowTransition
	delay   time.Duration
}

func newMemoryWorkflowStore(snaps ...workflow.Snapshot) *memoryWorkflowStore {
	s := &memoryWorkflowStore{snaps: make(map[string]workflow.Snapshot)}
	for _, snap := range snaps {
		s.snaps[snap.EntityID] = snap
	}
	return s
}

func (s *memoryWorkflowStore) Mutate(ctx context.Context, typ workflow.Type, id string, decide func(workflow.Snapshot) (workflow.Decision, error)) (*workflow.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.snaps[id]
	if !ok || current.Type != typ {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", typ, id))
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	decision, err := decide(current)
	if err != nil {
		return nil, err
	}
	s.snaps[id] = decision.Next
	evt := &workflow.Event{
		ID:          uuid.NewString(),
		Type:        typ,
		EntityID:    id,
		OwnerID:     current.OwnerID,
		From:        current.Status,
		To:          decision.Next.Status,
		Requested:   decision.Requested,
		Actor:       decision.Actor,
		Version:     decision.Next.Version,
		CommittedAt: time.Now().UTC(),
	}
	s.history = append(s.history, models.WorkflowTransition{
		ID:              evt.ID,
		WorkflowType:    string(typ),
		EntityID:        id,
		FromStatus:      string(evt.From),
		ToStatus:        string(evt.To),
		RequestedStatus: string(evt.Requested),
		ActorID:         evt.Actor.UserID,
		ActorRole:       evt.Actor.Role,
		Version:         evt.Version,
		CommittedAt:     evt.CommittedAt,
	})
	return evt, nil
}

func (s *memoryWorkflowStore) Peek(ctx context.Context, typ workflow.Type, id string) (*workflow.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok || snap.Type != typ {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", typ, id))
	}
	return &snap, nil
}

func (s *memoryWorkflowStore) ListTransitions(ctx context.Context, typ workflow.Type, entityID string) ([]models.WorkflowTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.WorkflowTransition
	for _, row := range s.history {
		if row.WorkflowType == string(typ) && row.EntityID == entityID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *memoryWorkflowStore) set(id string, mutate func(*workflow.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snaps[id]
	mutate(&snap)
	s.snaps[id] = snap
}

type cascadeRecorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *cascadeRecorder) OnCommitted(evt workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *cascadeRecorder) recorded() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Event(nil), r.events...)
}

var (
	studentActor     = workflow.Actor{UserID: "stu-1", Role: models.RoleStudent}
	registrarActor   = workflow.Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	financeActor     = workflow.Actor{UserID: "fin-1", Role: models.RoleFinance}
	programHeadActor = workflow.Actor{UserID: "ph-1", Role: models.RoleProgramHead}
	deanActor        = workflow.Actor{UserID: "dean-1", Role: models.RoleDean}
)

func TestWorkflowEngineEnrollmentPaymentScenario(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Registered", Version: 1, DocumentsComplete: true,
	})
	cascade := &cascadeRecorder{}
	engine := NewWorkflowEngine(store, cascade, nil, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "Pending", "", studentActor)
	require.NoError(t, err)
	_, err = engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "Verified", "Pending", registrarActor)
	require.NoError(t, err)
	_, err = engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "ForPayment", "", registrarActor)
	require.NoError(t, err)

	// 15,000 assessed, 14,500 paid
	store.set("enr-1", func(s *workflow.Snapshot) { s.BalanceCents = 50000 })
	_, err = engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "OfficiallyEnrolled", "", financeActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))
	assert.Contains(t, err.Error(), "PHP 500.00")

	store.set("enr-1", func(s *workflow.Snapshot) { s.BalanceCents = 0 })
	evt, err := engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "OfficiallyEnrolled", "ForPayment", financeActor)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("ForPayment"), evt.From)
	assert.Equal(t, workflow.Status("OfficiallyEnrolled"), evt.To)
	assert.Equal(t, int64(5), evt.Version)

	events := cascade.recorded()
	require.Len(t, events, 4)
	assert.Equal(t, evt.ID, events[3].ID)

	_, err = engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "Rejected", "", registrarActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
	assert.Len(t, cascade.recorded(), 4)
}

func TestWorkflowEngineClassApprovalRejectLoop(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeClassApproval, EntityID: "ca-1", OwnerID: "ins-1", Status: "Pending", Version: 1, Cycle: 1,
	})
	engine := NewWorkflowEngine(store, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, workflow.TypeClassApproval, "ca-1", "ProgramHeadApproved", "", programHeadActor)
	require.NoError(t, err)

	evt, err := engine.Transition(ctx, workflow.TypeClassApproval, "ca-1", "Rejected", "", deanActor)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("Pending"), evt.To)
	assert.Equal(t, workflow.Status("Rejected"), evt.Requested)
	assert.True(t, evt.Passed("Rejected"))

	snap, err := store.Peek(ctx, workflow.TypeClassApproval, "ca-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Cycle)
	assert.Nil(t, snap.ProgramHeadApprovedCycle)
	assert.Nil(t, snap.DeanApprovedCycle)

	_, err = engine.Transition(ctx, workflow.TypeClassApproval, "ca-1", "DeanApproved", "", deanActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	for _, step := range []struct {
		to    workflow.Status
		actor workflow.Actor
	}{
		{"ProgramHeadApproved", programHeadActor},
		{"DeanApproved", deanActor},
		{"Final", deanActor},
	} {
		_, err := engine.Transition(ctx, workflow.TypeClassApproval, "ca-1", step.to, "", step.actor)
		require.NoError(t, err, step.to)
	}

	_, err = engine.Transition(ctx, workflow.TypeClassApproval, "ca-1", "Rejected", "", deanActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestWorkflowEngineCreditTransferIncompleteEquivalency(t *testing.T) {
	row := models.CourseEquivalency{
		ID:                 "eq-1",
		ExternalCode:       "MATH101",
		ExternalName:       "College Algebra",
		ExternalGrade:      "1.50",
		ExternalUnits:      3,
		SourceAcademicYear: "2022-2023",
		EquivalentCourseID: "course-math-1",
	}
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeCreditTransfer, EntityID: "tor-1", OwnerID: "stu-1", Status: "pending", Version: 1,
	})
	engine := NewWorkflowEngine(store, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, workflow.TypeCreditTransfer, "tor-1", "program_head_reviewed", "", programHeadActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))

	store.set("tor-1", func(s *workflow.Snapshot) { s.Equivalencies = []models.CourseEquivalency{row} })
	_, err = engine.Transition(ctx, workflow.TypeCreditTransfer, "tor-1", "program_head_reviewed", "", programHeadActor)
	require.NoError(t, err)

	_, err = engine.Transition(ctx, workflow.TypeCreditTransfer, "tor-1", "registrar_approved", "", registrarActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrGuardFailed))
	assert.Contains(t, err.Error(), "incomplete equivalency")
	assert.Contains(t, err.Error(), "source_school")

	row.SourceSchool = "Cebu Institute of Technology"
	store.set("tor-1", func(s *workflow.Snapshot) { s.Equivalencies = []models.CourseEquivalency{row} })
	evt, err := engine.Transition(ctx, workflow.TypeCreditTransfer, "tor-1", "registrar_approved", "", registrarActor)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("registrar_approved"), evt.To)
}

func TestWorkflowEngineExpectedStatusMismatch(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Verified", Version: 3,
	})
	engine := NewWorkflowEngine(store, nil, nil, nil)

	_, err := engine.Transition(context.Background(), workflow.TypeEnrollment, "enr-1", "Rejected", "Pending", registrarActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "is Verified, not Pending")
}

func TestWorkflowEngineRejectsUnauthorizedActor(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Pending", Version: 2,
	})
	cascade := &cascadeRecorder{}
	engine := NewWorkflowEngine(store, cascade, NewMetricsService(), nil)

	_, err := engine.Transition(context.Background(), workflow.TypeEnrollment, "enr-1", "Verified", "", studentActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, cascade.recorded())

	snap, err := store.Peek(context.Background(), workflow.TypeEnrollment, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("Pending"), snap.Status)
	assert.Equal(t, int64(2), snap.Version)
}

func TestWorkflowEngineUnknownEntity(t *testing.T) {
	engine := NewWorkflowEngine(newMemoryWorkflowStore(), nil, nil, nil)
	_, err := engine.Transition(context.Background(), workflow.TypeEnrollment, "missing", "Pending", "", studentActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = engine.Transition(context.Background(), "library_loan", "x", "Pending", "", studentActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestWorkflowEngineConcurrentConflictingTransitions(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type:  workflow.TypeClassApproval, EntityID: "ca-1", OwnerID: "ins-1", Status: "DeanApproved", Version: 4,
		Cycle: 1, ProgramHeadApprovedCycle: intPtr(1), DeanApprovedCycle: intPtr(1),
	})
	store.delay = 5 * time.Millisecond
	engine := NewWorkflowEngine(store, nil, nil, nil)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, to := range []workflow.Status{"Final", "Rejected"} {
		wg.Add(1)
		go func(i int, to workflow.Status) {
			defer wg.Done()
			_, errs[i] = engine.Transition(context.Background(), workflow.TypeClassApproval, "ca-1", to, "", deanActor)
		}(i, to)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition) || appErrors.Is(err, appErrors.ErrConcurrencyConflict), err.Error())
	}
	assert.Equal(t, 1, succeeded)

	snap, err := store.Peek(context.Background(), workflow.TypeClassApproval, "ca-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version)
}

func TestWorkflowEngineAvailable(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "ForPayment", Version: 4, BalanceCents: 50000,
	})
	engine := NewWorkflowEngine(store, nil, nil, nil)
	ctx := context.Background()

	resp, err := engine.Available(ctx, workflow.TypeEnrollment, "enr-1", financeActor)
	require.NoError(t, err)
	assert.Equal(t, "ForPayment", resp.CurrentStatus)
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "OfficiallyEnrolled", resp.Transitions[0].To)
	assert.Contains(t, resp.Transitions[0].BlockedReason, "outstanding balance")

	resp, err = engine.Available(ctx, workflow.TypeEnrollment, "enr-1", studentActor)
	require.NoError(t, err)
	assert.Empty(t, resp.Transitions)

	_, err = engine.Available(ctx, workflow.TypeEnrollment, "enr-1", workflow.Actor{UserID: "stu-2", Role: models.RoleStudent})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestWorkflowEngineHistory(t *testing.T) {
	store := newMemoryWorkflowStore(workflow.Snapshot{
		Type: workflow.TypeEnrollment, EntityID: "enr-1", OwnerID: "stu-1", Status: "Registered", Version: 1, DocumentsComplete: true,
	})
	engine := NewWorkflowEngine(store, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, workflow.TypeEnrollment, "enr-1", "Pending", "", studentActor)
	require.NoError(t, err)

	rows, err := engine.History(ctx, workflow.TypeEnrollment, "enr-1", studentActor)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Registered", rows[0].FromStatus)
	assert.Equal(t, "Pending", rows[0].ToStatus)
	assert.Equal(t, "stu-1", rows[0].ActorID)

	_, err = engine.History(ctx, workflow.TypeEnrollment, "enr-1", workflow.Actor{UserID: "stu-9", Role: models.RoleStudent})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestWorkflowEngineTable(t *testing.T) {
	engine := NewWorkflowEngine(newMemoryWorkflowStore(), nil, nil, nil)
	resp, err := engine.Table(workflow.TypeClassApproval)
	require.NoError(t, err)
	assert.Equal(t, "Pending", resp.Initial)
	assert.ElementsMatch(t, []string{"Final", "Rejected"}, resp.Terminal)

	var reject int
	for _, edge := range resp.Edges {
		if edge.To == "Rejected" {
			reject++
			assert.Equal(t, "Pending", edge.SettlesTo)
		}
	}
	assert.Equal(t, 3, reject)
}

func intPtr(v int) *int { return &v }
