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

type enrollmentService interface {
	Register(ctx context.Context, req dto.CreateEnrollmentRequest, claims *models.JWTClaims) (*models.EnrollmentView, error)
	Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.EnrollmentView, error)
	ListByStudent(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.Enrollment, error)
	UploadDocument(ctx context.Context, id string, kind models.DocumentKind, upload service.Upload, claims *models.JWTClaims) (*dto.DocumentLink, error)
	DocumentLink(ctx context.Context, id string, kind models.DocumentKind, claims *models.JWTClaims) (*dto.DocumentLink, error)
	AssessFee(ctx context.Context, id string, req dto.AssessFeeRequest, claims *models.JWTClaims) (*models.EnrollmentView, error)
	RecordPayment(ctx context.Context, id string, req dto.RecordPaymentRequest, claims *models.JWTClaims) (*dto.PaymentResult, error)
	Ledger(ctx context.Context, id string, claims *models.JWTClaims) (*dto.LedgerResponse, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Register godoc
// @Summary Register for a term
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateEnrollmentRequest
	if !bindJSON(c, &req, "invalid enrollment payload") {
		return
	}
	view, err := h.enrollments.Register(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	view, err := h.enrollments.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ListByStudent godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EnrollmentHandler) ListByStudent(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	rows, err := h.enrollments.ListByStudent(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// UploadDocument godoc
// @Summary Upload an enrollment document
// @Tags Enrollments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param kind path string true "id_photo, birth_certificate or form137"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/documents/{kind} [post]
func (h *EnrollmentHandler) UploadDocument(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	upload, file, ok := formUpload(c)
	if !ok {
		return
	}
	defer file.Close()

	link, err := h.enrollments.UploadDocument(c.Request.Context(), c.Param("id"), models.DocumentKind(c.Param("kind")), upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// DocumentLink godoc
// @Summary Get a signed download link for a document
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param kind path string true "Document kind"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/documents/{kind} [get]
func (h *EnrollmentHandler) DocumentLink(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	link, err := h.enrollments.DocumentLink(c.Request.Context(), c.Param("id"), models.DocumentKind(c.Param("kind")), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// AssessFee godoc
// @Summary Assess a fee
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.AssessFeeRequest true "Fee"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/fees [post]
func (h *EnrollmentHandler) AssessFee(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.AssessFeeRequest
	if !bindJSON(c, &req, "invalid fee payload") {
		return
	}
	view, err := h.enrollments.AssessFee(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// RecordPayment godoc
// @Summary Record a payment
// @Description Settling the balance promotes the enrollment to OfficiallyEnrolled.
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.RecordPaymentRequest true "Payment"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/payments [post]
func (h *EnrollmentHandler) RecordPayment(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RecordPaymentRequest
	if !bindJSON(c, &req, "invalid payment payload") {
		return
	}
	res, err := h.enrollments.RecordPayment(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Ledger godoc
// @Summary Fees, payments and balance
// @Tags Payments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/ledger [get]
func (h *EnrollmentHandler) Ledger(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	ledger, err := h.enrollments.Ledger(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}
