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

type creditTransferService interface {
	Create(ctx context.Context, req dto.CreateCreditTransferRequest, claims *models.JWTClaims) (*models.CreditTransferView, error)
	Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.CreditTransferView, error)
	UploadTranscript(ctx context.Context, id string, upload service.Upload, claims *models.JWTClaims) (*dto.DocumentLink, error)
	AddEquivalency(ctx context.Context, id string, req dto.EquivalencyRequest, claims *models.JWTClaims) (*models.CourseEquivalency, error)
	UpdateEquivalency(ctx context.Context, id, equivalencyID string, req dto.EquivalencyRequest, claims *models.JWTClaims) (*models.CourseEquivalency, error)
	RemoveEquivalency(ctx context.Context, id, equivalencyID string, claims *models.JWTClaims) error
	Credits(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.AcademicCredit, error)
}

// CreditTransferHandler exposes TOR evaluation endpoints.
type CreditTransferHandler struct {
	service creditTransferService
}

// NewCreditTransferHandler constructs CreditTransferHandler.
func NewCreditTransferHandler(svc creditTransferService) *CreditTransferHandler {
	return &CreditTransferHandler{service: svc}
}

// Create godoc
// @Summary Open a credit transfer request
// @Tags Credit Transfers
// @Accept json
// @Produce json
// @Param payload body dto.CreateCreditTransferRequest false "Request"
// @Success 201 {object} response.Envelope
// @Router /credit-transfers [post]
func (h *CreditTransferHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateCreditTransferRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid credit transfer payload") {
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
// @Summary Get credit transfer request with its equivalencies
// @Tags Credit Transfers
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /credit-transfers/{id} [get]
func (h *CreditTransferHandler) Get(c *gin.Context) {
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

// UploadTranscript godoc
// @Summary Upload the transcript of records
// @Tags Credit Transfers
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "Transcript"
// @Success 201 {object} response.Envelope
// @Router /credit-transfers/{id}/transcript [post]
func (h *CreditTransferHandler) UploadTranscript(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	upload, file, ok := formUpload(c)
	if !ok {
		return
	}
	defer file.Close()

	link, err := h.service.UploadTranscript(c.Request.Context(), c.Param("id"), upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// AddEquivalency godoc
// @Summary Map an external course
// @Tags Credit Transfers
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.EquivalencyRequest true "Equivalency"
// @Success 201 {object} response.Envelope
// @Router /credit-transfers/{id}/equivalencies [post]
func (h *CreditTransferHandler) AddEquivalency(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.EquivalencyRequest
	if !bindJSON(c, &req, "invalid equivalency payload") {
		return
	}
	eq, err := h.service.AddEquivalency(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, eq)
}

// UpdateEquivalency godoc
// @Summary Replace an equivalency
// @Tags Credit Transfers
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param equivalencyId path string true "Equivalency ID"
// @Param payload body dto.EquivalencyRequest true "Equivalency"
// @Success 200 {object} response.Envelope
// @Router /credit-transfers/{id}/equivalencies/{equivalencyId} [put]
func (h *CreditTransferHandler) UpdateEquivalency(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.EquivalencyRequest
	if !bindJSON(c, &req, "invalid equivalency payload") {
		return
	}
	eq, err := h.service.UpdateEquivalency(c.Request.Context(), c.Param("id"), c.Param("equivalencyId"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, eq, nil)
}

// RemoveEquivalency godoc
// @Summary Remove an equivalency
// @Tags Credit Transfers
// @Param id path string true "Request ID"
// @Param equivalencyId path string true "Equivalency ID"
// @Success 204
// @Router /credit-transfers/{id}/equivalencies/{equivalencyId} [delete]
func (h *CreditTransferHandler) RemoveEquivalency(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.RemoveEquivalency(c.Request.Context(), c.Param("id"), c.Param("equivalencyId"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Credits godoc
// @Summary Academic credits granted to a student
// @Tags Credit Transfers
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/credits [get]
func (h *CreditTransferHandler) Credits(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	rows, err := h.service.Credits(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
