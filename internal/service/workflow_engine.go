package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/dto"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type workflowStore interface {
	Mutate(ctx context.Context, typ workflow.Type, id string, decide func(workflow.Snapshot) (workflow.Decision, error)) (*workflow.Event, error)
	Peek(ctx context.Context, typ workflow.Type, id string) (*workflow.Snapshot, error)
	ListTransitions(ctx context.Context, typ workflow.Type, entityID string) ([]models.WorkflowTransition, error)
}

// CascadeSink receives committed transitions. Implementations must not block.
type CascadeSink interface {
	OnCommitted(evt workflow.Event)
}

// WorkflowEngine validates and commits status changes for every workflow.
// Resolution happens on the snapshot read under the entity's row lock, so a
// concurrent change is seen before the decision is made.
type WorkflowEngine struct {
	store   workflowStore
	cascade CascadeSink
	metrics *MetricsService
	logger  *zap.Logger
}

// NewWorkflowEngine wires the engine. cascade and metrics may be nil.
func NewWorkflowEngine(store workflowStore, cascade CascadeSink, metrics *MetricsService, logger *zap.Logger) *WorkflowEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowEngine{store: store, cascade: cascade, metrics: metrics, logger: logger}
}

// Transition moves an entity to requested on behalf of actor. When expected
// is non-empty the locked status must equal it. The cascade is handed the
// committed event after the transaction ends.
func (e *WorkflowEngine) Transition(ctx context.Context, typ workflow.Type, entityID string, requested, expected workflow.Status, actor workflow.Actor) (*workflow.Event, error) {
	start := time.Now()
	table, err := workflow.Lookup(typ)
	if err != nil {
		return nil, err
	}

	evt, err := e.store.Mutate(ctx, typ, entityID, func(current workflow.Snapshot) (workflow.Decision, error) {
		if expected != "" && current.Status != expected {
			return workflow.Decision{}, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("%s %s is %s, not %s", typ, entityID, current.Status, expected))
		}
		edge, err := table.Resolve(current, requested, actor)
		if err != nil {
			return workflow.Decision{}, err
		}
		return workflow.Decision{Next: edge.Apply(current), Requested: requested, Actor: actor}, nil
	})
	e.metrics.ObserveTransition(string(typ), string(requested), outcomeOf(err), time.Since(start))

	fields := []zap.Field{
		zap.String("workflow", string(typ)),
		zap.String("entity_id", entityID),
		zap.String("requested", string(requested)),
		zap.String("actor_id", actor.UserID),
		zap.String("actor_role", string(actor.Role)),
	}
	if err != nil {
		e.logger.Info("transition rejected", append(fields, zap.Error(err))...)
		return nil, wrapInternal(err, "failed to commit transition")
	}

	e.logger.Info("transition committed", append(fields,
		zap.String("transition_id", evt.ID),
		zap.String("from", string(evt.From)),
		zap.String("to", string(evt.To)),
		zap.Int64("version", evt.Version),
	)...)
	if e.cascade != nil {
		e.cascade.OnCommitted(*evt)
	}
	return evt, nil
}

// Table describes the static table of a workflow.
func (e *WorkflowEngine) Table(typ workflow.Type) (*dto.WorkflowTableResponse, error) {
	table, err := workflow.Lookup(typ)
	if err != nil {
		return nil, err
	}
	resp := &dto.WorkflowTableResponse{
		WorkflowType: string(typ),
		Initial:      string(table.Initial()),
		Statuses:     []string{},
		Terminal:     []string{},
		Edges:        []dto.EdgeView{},
	}
	for _, s := range table.Statuses() {
		resp.Statuses = append(resp.Statuses, string(s))
		if table.Terminal(s) {
			resp.Terminal = append(resp.Terminal, string(s))
		}
	}
	for _, edge := range table.Edges() {
		roles := make([]string, 0, len(edge.Roles))
		for _, r := range edge.Roles {
			roles = append(roles, string(r))
		}
		resp.Edges = append(resp.Edges, dto.EdgeView{
			From:        string(edge.From),
			To:          string(edge.To),
			Roles:       roles,
			SelfService: edge.SelfService,
			Guarded:     len(edge.Guards) > 0,
			SettlesTo:   string(edge.Settle),
		})
	}
	return resp, nil
}

// Available lists the edges actor may take from the entity's current status.
// The read is unlocked; the answer is advisory.
func (e *WorkflowEngine) Available(ctx context.Context, typ workflow.Type, entityID string, actor workflow.Actor) (*dto.AvailableTransitionsResponse, error) {
	table, err := workflow.Lookup(typ)
	if err != nil {
		return nil, err
	}
	current, err := e.store.Peek(ctx, typ, entityID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load workflow entity")
	}
	if err := e.canView(actor, current); err != nil {
		return nil, err
	}

	resp := &dto.AvailableTransitionsResponse{
		EntityID:      entityID,
		WorkflowType:  string(typ),
		CurrentStatus: string(current.Status),
		Version:       current.Version,
		Transitions:   []dto.AvailableTransition{},
	}
	for _, edge := range table.From(current.Status) {
		if !workflow.Can(actor, edge.Roles, edge.SelfService, current.OwnerID) {
			continue
		}
		option := dto.AvailableTransition{To: string(edge.To)}
		if err := edge.Check(*current); err != nil {
			option.BlockedReason = appErrors.FromError(err).Message
		}
		resp.Transitions = append(resp.Transitions, option)
	}
	return resp, nil
}

// History returns the audit trail of one entity.
func (e *WorkflowEngine) History(ctx context.Context, typ workflow.Type, entityID string, actor workflow.Actor) ([]models.WorkflowTransition, error) {
	if _, err := workflow.Lookup(typ); err != nil {
		return nil, err
	}
	current, err := e.store.Peek(ctx, typ, entityID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load workflow entity")
	}
	if err := e.canView(actor, current); err != nil {
		return nil, err
	}
	rows, err := e.store.ListTransitions(ctx, typ, entityID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list transitions")
	}
	if rows == nil {
		rows = []models.WorkflowTransition{}
	}
	return rows, nil
}

// canView lets staff see any entity and students only their own.
func (e *WorkflowEngine) canView(actor workflow.Actor, current *workflow.Snapshot) error {
	if actor.Role == models.RoleStudent && actor.UserID != current.OwnerID {
		return appErrors.Clone(appErrors.ErrForbidden, "students may only view their own records")
	}
	return nil
}

// ToTransitionResponse renders a committed event.
func ToTransitionResponse(evt *workflow.Event) *dto.TransitionResponse {
	if evt == nil {
		return nil
	}
	return &dto.TransitionResponse{
		TransitionID:    evt.ID,
		EntityID:        evt.EntityID,
		WorkflowType:    string(evt.Type),
		PreviousStatus:  string(evt.From),
		RequestedStatus: string(evt.Requested),
		NewStatus:       string(evt.To),
		Version:         evt.Version,
		CommittedAt:     evt.CommittedAt,
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeCommitted
	case appErrors.Is(err, appErrors.ErrForbidden):
		return OutcomeForbidden
	case appErrors.Is(err, appErrors.ErrInvalidTransition):
		return OutcomeInvalidTransition
	case appErrors.Is(err, appErrors.ErrGuardFailed):
		return OutcomeGuardFailed
	case appErrors.Is(err, appErrors.ErrConcurrencyConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// wrapInternal passes typed errors through and wraps everything else as an
// internal error with message.
func wrapInternal(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
