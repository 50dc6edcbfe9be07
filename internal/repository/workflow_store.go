package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// snapshotLocker reads and writes one workflow type's entity inside a transaction.
type snapshotLocker interface {
	LockSnapshot(ctx context.Context, tx *sqlx.Tx, id string) (*workflow.Snapshot, error)
	SaveSnapshot(ctx context.Context, tx *sqlx.Tx, prev, next workflow.Snapshot) error
}

// snapshotPeeker reads the same snapshot without taking a lock, for display.
type snapshotPeeker interface {
	PeekSnapshot(ctx context.Context, id string) (*workflow.Snapshot, error)
}

type snapshotRepository interface {
	snapshotLocker
	snapshotPeeker
}

// WorkflowStore serialises status changes per entity: the row is locked with
// SELECT ... FOR UPDATE under a lock_timeout, the decision is computed on the
// locked snapshot and the write is a compare-and-swap on version. The audit
// row is written in the same transaction.
type WorkflowStore struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	lockers     map[workflow.Type]snapshotRepository
	now         func() time.Time
}

// NewWorkflowStore wires the per-type repositories into a store.
func NewWorkflowStore(db *sqlx.DB, lockTimeout time.Duration, enrollments *EnrollmentRepository, classes *ClassApprovalRepository, transfers *CreditTransferRepository) *WorkflowStore {
	return &WorkflowStore{
		db:          db,
		lockTimeout: lockTimeout,
		lockers: map[workflow.Type]snapshotRepository{
			workflow.TypeEnrollment:     enrollments,
			workflow.TypeClassApproval:  classes,
			workflow.TypeCreditTransfer: transfers,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Mutate locks the entity, asks decide for the next state and commits it.
// Errors returned by decide abort the transaction unchanged.
func (s *WorkflowStore) Mutate(ctx context.Context, typ workflow.Type, id string, decide func(workflow.Snapshot) (workflow.Decision, error)) (*workflow.Event, error) {
	locker, ok := s.lockers[typ]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown workflow type %q", typ))
	}

	var evt *workflow.Event
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := setLockTimeout(ctx, tx, s.lockTimeout); err != nil {
			return err
		}
		current, err := locker.LockSnapshot(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", typ, id))
			}
			return err
		}

		decision, err := decide(*current)
		if err != nil {
			return err
		}
		if err := locker.SaveSnapshot(ctx, tx, *current, decision.Next); err != nil {
			return err
		}

		evt = &workflow.Event{
			ID:          uuid.NewString(),
			Type:        typ,
			EntityID:    current.EntityID,
			OwnerID:     current.OwnerID,
			From:        current.Status,
			To:          decision.Next.Status,
			Requested:   decision.Requested,
			Actor:       decision.Actor,
			Version:     decision.Next.Version,
			CommittedAt: s.now(),
		}
		return insertTransition(ctx, tx, evt)
	})
	if err != nil {
		return nil, mapConflict(err)
	}
	return evt, nil
}

// Peek returns the current snapshot without locking. It is stale the moment it
// returns and must not drive a write.
func (s *WorkflowStore) Peek(ctx context.Context, typ workflow.Type, id string) (*workflow.Snapshot, error) {
	repo, ok := s.lockers[typ]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown workflow type %q", typ))
	}
	snap, err := repo.PeekSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", typ, id))
		}
		return nil, err
	}
	return snap, nil
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, evt *workflow.Event) error {
	const query = `INSERT INTO workflow_transitions (id, workflow_type, entity_id, owner_id, from_status, to_status, requested_status, actor_id, actor_role, version, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.ExecContext(ctx, query,
		evt.ID,
		string(evt.Type),
		evt.EntityID,
		evt.OwnerID,
		string(evt.From),
		string(evt.To),
		string(evt.Requested),
		evt.Actor.UserID,
		string(evt.Actor.Role),
		evt.Version,
		evt.CommittedAt,
	); err != nil {
		return fmt.Errorf("insert workflow transition: %w", err)
	}
	return nil
}

const transitionColumns = `id, workflow_type, entity_id, owner_id, from_status, to_status, requested_status, actor_id, actor_role, version, committed_at, cascaded_at`

// ListTransitions returns the committed history of one entity, oldest first.
func (s *WorkflowStore) ListTransitions(ctx context.Context, typ workflow.Type, entityID string) ([]models.WorkflowTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM workflow_transitions WHERE workflow_type = $1 AND entity_id = $2 ORDER BY committed_at ASC, version ASC`
	var rows []models.WorkflowTransition
	if err := s.db.SelectContext(ctx, &rows, query, string(typ), entityID); err != nil {
		return nil, fmt.Errorf("list workflow transitions: %w", err)
	}
	return rows, nil
}

// ListUncascaded returns transitions whose cascade has not completed and that
// were committed before the cutoff.
func (s *WorkflowStore) ListUncascaded(ctx context.Context, before time.Time, limit int) ([]workflow.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transitionColumns + ` FROM workflow_transitions WHERE cascaded_at IS NULL AND committed_at < $1 ORDER BY committed_at ASC LIMIT $2`
	var rows []models.WorkflowTransition
	if err := s.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("list uncascaded transitions: %w", err)
	}
	events := make([]workflow.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, EventFromTransition(row))
	}
	return events, nil
}

// MarkCascaded records that every cascade step for the transition succeeded.
func (s *WorkflowStore) MarkCascaded(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE workflow_transitions SET cascaded_at = $2 WHERE id = $1 AND cascaded_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark transition cascaded: %w", err)
	}
	return nil
}

// EventFromTransition rebuilds the dispatcher event from its audit row.
func EventFromTransition(row models.WorkflowTransition) workflow.Event {
	return workflow.Event{
		ID:          row.ID,
		Type:        workflow.Type(row.WorkflowType),
		EntityID:    row.EntityID,
		OwnerID:     row.OwnerID,
		From:        workflow.Status(row.FromStatus),
		To:          workflow.Status(row.ToStatus),
		Requested:   workflow.Status(row.RequestedStatus),
		Actor:       workflow.Actor{UserID: row.ActorID, Role: row.ActorRole},
		Version:     row.Version,
		CommittedAt: row.CommittedAt,
	}
}
