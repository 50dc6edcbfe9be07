package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/dto"
	"github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type enrollmentServiceMock struct {
	registerReq  dto.CreateEnrollmentRequest
	registerErr  error
	uploadKind   models.DocumentKind
	uploadBody   string
	uploadName   string
	paymentReq   dto.RecordPaymentRequest
	paymentResp  *dto.PaymentResult
	registerCall bool
}

func (m *enrollmentServiceMock) Register(ctx context.Context, req dto.CreateEnrollmentRequest, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	m.registerCall = true
	m.registerReq = req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.EnrollmentView{Enrollment: models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusRegistered}}, nil
}

func (m *enrollmentServiceMock) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
}

func (m *enrollmentServiceMock) ListByStudent(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.Enrollment, error) {
	return nil, nil
}

func (m *enrollmentServiceMock) UploadDocument(ctx context.Context, id string, kind models.DocumentKind, upload service.Upload, claims *models.JWTClaims) (*dto.DocumentLink, error) {
	m.uploadKind = kind
	m.uploadName = upload.Filename
	raw, err := io.ReadAll(upload.Body)
	if err != nil {
		return nil, err
	}
	m.uploadBody = string(raw)
	return &dto.DocumentLink{Kind: string(kind), DownloadURL: "/api/v1/documents/token"}, nil
}

func (m *enrollmentServiceMock) DocumentLink(ctx context.Context, id string, kind models.DocumentKind, claims *models.JWTClaims) (*dto.DocumentLink, error) {
	return nil, nil
}

func (m *enrollmentServiceMock) AssessFee(ctx context.Context, id string, req dto.AssessFeeRequest, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	return nil, nil
}

func (m *enrollmentServiceMock) RecordPayment(ctx context.Context, id string, req dto.RecordPaymentRequest, claims *models.JWTClaims) (*dto.PaymentResult, error) {
	m.paymentReq = req
	return m.paymentResp, nil
}

func (m *enrollmentServiceMock) Ledger(ctx context.Context, id string, claims *models.JWTClaims) (*dto.LedgerResponse, error) {
	return nil, nil
}

var student = &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}

func TestEnrollmentHandlerRegister(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := jsonContext(t, http.MethodPost, "/enrollments",
		`{"academic_year":"2025-2026","semester":1,"program_id":"bsit","year_level":1}`, student)
	h.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2025-2026", svc.registerReq.AcademicYear)
	assert.Contains(t, w.Body.String(), `"status":"Registered"`)
}

func TestEnrollmentHandlerRegisterInvalidBody(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := jsonContext(t, http.MethodPost, "/enrollments", `{"academic_year":`, student)
	h.Register(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, svc.registerCall)
}

func TestEnrollmentHandlerRegisterConflict(t *testing.T) {
	svc := &enrollmentServiceMock{registerErr: appErrors.Clone(appErrors.ErrConflict, "already registered for this term")}
	h := NewEnrollmentHandler(svc)

	c, w := jsonContext(t, http.MethodPost, "/enrollments", `{}`, student)
	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrConflict.Code, errorCode(t, w))
}

func TestEnrollmentHandlerGetNotFound(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := jsonContext(t, http.MethodGet, "/enrollments/missing", "", student)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollmentHandlerUploadDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "form137.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 test"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/enrollments/enr-1/documents/form137", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}, {Key: "kind", Value: "form137"}}
	c.Set(middleware.ContextUserKey, student)

	h.UploadDocument(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.DocumentForm137, svc.uploadKind)
	assert.Equal(t, "form137.pdf", svc.uploadName)
	assert.Equal(t, "%PDF-1.4 test", svc.uploadBody)
}

func TestEnrollmentHandlerUploadRequiresFile(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := jsonContext(t, http.MethodPost, "/enrollments/enr-1/documents/form137", `{}`, student)
	h.UploadDocument(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerRecordPayment(t *testing.T) {
	svc := &enrollmentServiceMock{paymentResp: &dto.PaymentResult{
		Payment:    models.Payment{ID: "pay-1", Reference: "OR-1"},
		Transition: &dto.TransitionResponse{NewStatus: "OfficiallyEnrolled"},
	}}
	h := NewEnrollmentHandler(svc)

	c, w := jsonContext(t, http.MethodPost, "/enrollments/enr-1/payments",
		`{"amount_cents":50000,"reference":"OR-1"}`, &models.JWTClaims{UserID: "fin-1", Role: models.RoleFinance})
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	h.RecordPayment(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(50000), svc.paymentReq.AmountCents)
	assert.Contains(t, w.Body.String(), `"new_status":"OfficiallyEnrolled"`)
}
