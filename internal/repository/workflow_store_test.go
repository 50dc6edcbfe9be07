package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

func newStore(db *sqlx.DB) *WorkflowStore {
	return NewWorkflowStore(db, 3*time.Second, NewEnrollmentRepository(db), NewClassApprovalRepository(db), NewCreditTransferRepository(db))
}

var registrar = workflow.Actor{UserID: "reg-1", Role: models.RoleRegistrar}

func moveTo(status workflow.Status) func(workflow.Snapshot) (workflow.Decision, error) {
	return func(s workflow.Snapshot) (workflow.Decision, error) {
		next := s
		next.Status = status
		next.Version = s.Version + 1
		return workflow.Decision{Next: next, Requested: status, Actor: registrar}, nil
	}
}

func TestWorkflowStoreMutateCommitsTransition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '3000ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows("enr-1", "stu-1", models.EnrollmentStatusPending, 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_fees WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"assessed_cents", "paid_cents"}).AddRow(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5")).
		WithArgs("Verified", int64(3), sqlmock.AnyArg(), "enr-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflow_transitions")).
		WithArgs(sqlmock.AnyArg(), "enrollment", "enr-1", "stu-1", "Pending", "Verified", "Verified", "reg-1", "REGISTRAR", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt, err := store.Mutate(context.Background(), workflow.TypeEnrollment, "enr-1", moveTo("Verified"))
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("Pending"), evt.From)
	assert.Equal(t, workflow.Status("Verified"), evt.To)
	assert.Equal(t, int64(3), evt.Version)
	assert.Equal(t, "stu-1", evt.OwnerID)
	assert.NotEmpty(t, evt.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStoreMutateVersionMoved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows("enr-1", "stu-1", models.EnrollmentStatusPending, 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_fees")).
		WillReturnRows(sqlmock.NewRows([]string{"assessed_cents", "paid_cents"}).AddRow(0, 0))
	mock.ExpectExec("UPDATE enrollments SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Mutate(context.Background(), workflow.TypeEnrollment, "enr-1", moveTo("Verified"))
	assert.True(t, appErrors.Is(err, appErrors.ErrConcurrencyConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStoreMutateLockTimeout(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_approvals WHERE id = $1 FOR UPDATE")).
		WithArgs("ca-1").
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := store.Mutate(context.Background(), workflow.TypeClassApproval, "ca-1", moveTo("ProgramHeadApproved"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConcurrencyConflict))
	assert.Contains(t, err.Error(), "timed out waiting for entity lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStoreMutateDecisionErrorRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("tor-1").
		WillReturnRows(creditTransferRows(models.CreditTransferPending))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_equivalencies")).
		WithArgs("tor-1").
		WillReturnRows(sqlmock.NewRows(equivalencyRowColumns))
	mock.ExpectRollback()

	guard := appErrors.Clone(appErrors.ErrGuardFailed, "no equivalencies mapped")
	_, err := store.Mutate(context.Background(), workflow.TypeCreditTransfer, "tor-1", func(workflow.Snapshot) (workflow.Decision, error) {
		return workflow.Decision{}, guard
	})
	assert.Equal(t, guard, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStoreMutateNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns))
	mock.ExpectRollback()

	_, err := store.Mutate(context.Background(), workflow.TypeEnrollment, "missing", moveTo("Verified"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStoreListUncascaded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := newStore(db)

	before := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM workflow_transitions WHERE cascaded_at IS NULL AND committed_at < $1 ORDER BY committed_at ASC LIMIT $2")).
		WithArgs(before, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_type", "entity_id", "owner_id", "from_status", "to_status", "requested_status", "actor_id", "actor_role", "version", "committed_at", "cascaded_at"}).
			AddRow("evt-1", "class_approval", "ca-1", "ins-1", "DeanApproved", "Pending", "Rejected", "dean-1", "DEAN", 7, before.Add(-time.Minute), nil))

	events, err := store.ListUncascaded(context.Background(), before, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Passed("Rejected"))
	assert.Equal(t, models.RoleDean, events[0].Actor.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}
