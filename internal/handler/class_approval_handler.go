package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/dto"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

type classApprovalService interface {
	Create(ctx context.Context, req dto.CreateClassApprovalRequest, claims *models.JWTClaims) (*models.ClassApprovalView, error)
	Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.ClassApprovalView, error)
	ListGrades(ctx context.Context, id string, claims *models.JWTClaims) ([]models.ClassGradeRecord, error)
	UpsertGrades(ctx context.Context, id string, req dto.UpsertGradesRequest, claims *models.JWTClaims) ([]models.ClassGradeRecord, error)
	SetRegistrarApproval(ctx context.Context, id, studentID string, req dto.RegistrarApprovalRequest, claims *models.JWTClaims) error
	VisibleGrades(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.VisibleGrade, service.CacheResult, error)
}

// ClassApprovalHandler exposes grade submission and class approval endpoints.
type ClassApprovalHandler struct {
	service classApprovalService
}

// NewClassApprovalHandler constructs ClassApprovalHandler.
func NewClassApprovalHandler(svc classApprovalService) *ClassApprovalHandler {
	return &ClassApprovalHandler{service: svc}
}

// Create godoc
// @Summary Open a class approval
// @Tags Class Approvals
// @Accept json
// @Produce json
// @Param payload body dto.CreateClassApprovalRequest true "Class approval"
// @Success 201 {object} response.Envelope
// @Router /class-approvals [post]
func (h *ClassApprovalHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateClassApprovalRequest
	if !bindJSON(c, &req, "invalid class approval payload") {
		return
	}
	view, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Get godoc
// @Summary Get class approval
// @Tags Class Approvals
// @Produce json
// @Param id path string true "Class approval ID"
// @Success 200 {object} response.Envelope
// @Router /class-approvals/{id} [get]
func (h *ClassApprovalHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	view, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ListGrades godoc
// @Summary List grades of a class
// @Tags Class Approvals
// @Produce json
// @Param id path string true "Class approval ID"
// @Success 200 {object} response.Envelope
// @Router /class-approvals/{id}/grades [get]
func (h *ClassApprovalHandler) ListGrades(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	rows, err := h.service.ListGrades(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// UpsertGrades godoc
// @Summary Submit grades
// @Description Rejected once the class approval is Final.
// @Tags Class Approvals
// @Accept json
// @Produce json
// @Param id path string true "Class approval ID"
// @Param payload body dto.UpsertGradesRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class-approvals/{id}/grades [put]
func (h *ClassApprovalHandler) UpsertGrades(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpsertGradesRequest
	if !bindJSON(c, &req, "invalid grades payload") {
		return
	}
	rows, err := h.service.UpsertGrades(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// SetRegistrarApproval godoc
// @Summary Set the registrar approval flag on a grade
// @Tags Class Approvals
// @Accept json
// @Param id path string true "Class approval ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.RegistrarApprovalRequest true "Flag"
// @Success 204
// @Router /class-approvals/{id}/grades/{studentId}/registrar-approval [put]
func (h *ClassApprovalHandler) SetRegistrarApproval(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RegistrarApprovalRequest
	if !bindJSON(c, &req, "invalid approval payload") {
		return
	}
	if err := h.service.SetRegistrarApproval(c.Request.Context(), c.Param("id"), c.Param("studentId"), req, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// VisibleGrades godoc
// @Summary Grades visible to a student
// @Description Only grades from Final classes with registrar approval are returned.
// @Tags Class Approvals
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/grades [get]
func (h *ClassApprovalHandler) VisibleGrades(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	rows, res, err := h.service.VisibleGrades(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, cacheMeta(c, res))
}
