package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/dto"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

type workflowEngine interface {
	Transition(ctx context.Context, typ workflow.Type, entityID string, requested, expected workflow.Status, actor workflow.Actor) (*workflow.Event, error)
	Table(typ workflow.Type) (*dto.WorkflowTableResponse, error)
	Available(ctx context.Context, typ workflow.Type, entityID string, actor workflow.Actor) (*dto.AvailableTransitionsResponse, error)
	History(ctx context.Context, typ workflow.Type, entityID string, actor workflow.Actor) ([]models.WorkflowTransition, error)
}

// ConflictRetry bounds how often a transition that lost a lock race is
// resubmitted. Retries only happen when the caller pinned expected_status.
type ConflictRetry struct {
	Attempts int
	Backoff  time.Duration
}

// WorkflowHandler exposes the status transition endpoint and table introspection.
type WorkflowHandler struct {
	engine    workflowEngine
	retry     ConflictRetry
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkflowHandler builds a WorkflowHandler.
func NewWorkflowHandler(engine workflowEngine, retry ConflictRetry, validate *validator.Validate, logger *zap.Logger) *WorkflowHandler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.Attempts < 0 {
		retry.Attempts = 0
	}
	return &WorkflowHandler{engine: engine, retry: retry, validator: validate, logger: logger}
}

// Transition godoc
// @Summary Request a status transition
// @Description The only endpoint that changes enrollment, class approval or credit transfer status.
// @Tags Workflows
// @Accept json
// @Produce json
// @Param payload body dto.TransitionRequest true "Transition request"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /workflows/transition [post]
func (h *WorkflowHandler) Transition(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.TransitionRequest
	if !bindJSON(c, &req, "invalid transition payload") {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	attempts := 1
	if req.ExpectedStatus != "" {
		attempts += h.retry.Attempts
	}
	ctx := c.Request.Context()
	actor := workflow.ActorFromClaims(claims)

	var (
		evt *workflow.Event
		err error
	)
	for attempt := 1; ; attempt++ {
		evt, err = h.engine.Transition(ctx, workflow.Type(req.WorkflowType), req.EntityID,
			workflow.Status(req.RequestedStatus), workflow.Status(req.ExpectedStatus), actor)
		if err == nil || attempt >= attempts || !appErrors.Is(err, appErrors.ErrConcurrencyConflict) {
			break
		}
		h.logger.Debug("retrying transition after conflict",
			zap.String("entity_id", req.EntityID),
			zap.Int("attempt", attempt),
		)
		if !sleepCtx(ctx, h.retry.Backoff*time.Duration(attempt)) {
			break
		}
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, service.ToTransitionResponse(evt), nil)
}

// Edges godoc
// @Summary Describe a workflow table
// @Tags Workflows
// @Produce json
// @Param type path string true "Workflow type"
// @Success 200 {object} response.Envelope
// @Router /workflows/{type}/edges [get]
func (h *WorkflowHandler) Edges(c *gin.Context) {
	table, err := h.engine.Table(workflow.Type(c.Param("type")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, table, nil)
}

// Available godoc
// @Summary List transitions the caller may request
// @Tags Workflows
// @Produce json
// @Param type path string true "Workflow type"
// @Param id path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /workflows/{type}/{id}/transitions [get]
func (h *WorkflowHandler) Available(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	resp, err := h.engine.Available(c.Request.Context(), workflow.Type(c.Param("type")), c.Param("id"), workflow.ActorFromClaims(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// History godoc
// @Summary List committed transitions of an entity
// @Tags Workflows
// @Produce json
// @Param type path string true "Workflow type"
// @Param id path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /workflows/{type}/{id}/history [get]
func (h *WorkflowHandler) History(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	rows, err := h.engine.History(c.Request.Context(), workflow.Type(c.Param("type")), c.Param("id"), workflow.ActorFromClaims(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
