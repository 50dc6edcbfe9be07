package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/dto"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/repository"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type enrollmentStore interface {
	Create(ctx context.Context, e *models.Enrollment) error
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	Balance(ctx context.Context, id string) (models.Balance, error)
	AttachDocument(ctx context.Context, id string, kind models.DocumentKind, ref string, check func(*models.Enrollment) error) (*models.Enrollment, error)
}

type paymentStore interface {
	AssessFee(ctx context.Context, fee *models.Fee, check func(*models.Enrollment) error) (*models.Enrollment, models.Balance, error)
	RecordPayment(ctx context.Context, payment *models.Payment, check func(*models.Enrollment) error) (*models.Enrollment, models.Balance, error)
	ListFees(ctx context.Context, enrollmentID string) ([]models.Fee, error)
	ListPayments(ctx context.Context, enrollmentID string) ([]models.Payment, error)
}

type transitioner interface {
	Transition(ctx context.Context, typ workflow.Type, entityID string, requested, expected workflow.Status, actor workflow.Actor) (*workflow.Event, error)
}

type documentKeeper interface {
	Store(prefix string, upload Upload) (string, error)
	Discard(ref string)
	Link(entityID, kind, ref string) (*dto.DocumentLink, error)
}

// EnrollmentService handles registration, documents and the finance ledger
// of term enrollments. Status changes go through the workflow engine.
type EnrollmentService struct {
	repo      enrollmentStore
	payments  paymentStore
	engine    transitioner
	documents documentKeeper
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService builds an EnrollmentService.
func NewEnrollmentService(repo enrollmentStore, payments paymentStore, engine transitioner, documents documentKeeper, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		payments:  payments,
		engine:    engine,
		documents: documents,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register opens an enrollment for a term in the initial status.
func (s *EnrollmentService) Register(ctx context.Context, req dto.CreateEnrollmentRequest, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	studentID, err := resolveSubject(claims, req.StudentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	enrollment := &models.Enrollment{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		AcademicYear: req.AcademicYear,
		Semester:     req.Semester,
		ProgramID:    req.ProgramID,
		YearLevel:    req.YearLevel,
		Status:       models.EnrollmentStatus(workflow.MustLookup(workflow.TypeEnrollment).Initial()),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("student already registered for %s semester %d", req.AcademicYear, req.Semester))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.logger.Info("enrollment registered", zap.String("enrollment_id", enrollment.ID), zap.String("student_id", studentID))
	return &models.EnrollmentView{Enrollment: *enrollment}, nil
}

// Get returns an enrollment with its balance.
func (s *EnrollmentService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, enrollment.StudentID, staffViewers...); err != nil {
		return nil, err
	}
	balance, err := s.repo.Balance(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load balance")
	}
	return enrollmentView(enrollment, balance), nil
}

// ListByStudent returns all enrollments of a student.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.Enrollment, error) {
	if err := requireOwnerOr(claims, studentID, staffViewers...); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if items == nil {
		items = []models.Enrollment{}
	}
	return items, nil
}

// UploadDocument stores a required document while the enrollment is still
// being assembled and returns a download link for it.
func (s *EnrollmentService) UploadDocument(ctx context.Context, id string, kind models.DocumentKind, upload Upload, claims *models.JWTClaims) (*dto.DocumentLink, error) {
	if !validDocumentKind(kind) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document kind %q", kind))
	}
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, enrollment.StudentID, models.RoleRegistrar); err != nil {
		return nil, err
	}
	if err := documentsEditable(enrollment); err != nil {
		return nil, err
	}

	ref, err := s.documents.Store(fmt.Sprintf("enrollments/%s/%s", id, kind), upload)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.AttachDocument(ctx, id, kind, ref, documentsEditable); err != nil {
		s.documents.Discard(ref)
		return nil, mapStoreError(err, "enrollment not found", "failed to attach document")
	}
	return s.documents.Link(id, string(kind), ref)
}

// DocumentLink signs a download link for a submitted document.
func (s *EnrollmentService) DocumentLink(ctx context.Context, id string, kind models.DocumentKind, claims *models.JWTClaims) (*dto.DocumentLink, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, enrollment.StudentID, models.RoleRegistrar, models.RoleAdmin); err != nil {
		return nil, err
	}
	ref := enrollment.DocumentRef(kind)
	if ref == nil || *ref == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("document %s not submitted", kind))
	}
	return s.documents.Link(id, string(kind), *ref)
}

// AssessFee adds a charge while the enrollment awaits payment.
func (s *EnrollmentService) AssessFee(ctx context.Context, id string, req dto.AssessFeeRequest, claims *models.JWTClaims) (*models.EnrollmentView, error) {
	if err := requireRole(claims, models.RoleFinance); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee payload")
	}
	fee := &models.Fee{
		ID:           uuid.NewString(),
		EnrollmentID: id,
		Description:  req.Description,
		AmountCents:  req.AmountCents,
		AssessedBy:   claims.UserID,
		CreatedAt:    s.now(),
	}
	enrollment, balance, err := s.payments.AssessFee(ctx, fee, func(e *models.Enrollment) error {
		if e.Status != models.EnrollmentStatusVerified && e.Status != models.EnrollmentStatusForPayment {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("fees cannot be assessed while enrollment is %s", e.Status))
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "enrollment not found", "failed to assess fee")
	}
	return enrollmentView(enrollment, balance), nil
}

// RecordPayment appends a payment. When the enrollment is awaiting payment
// and the balance is settled, it is moved to OfficiallyEnrolled through the
// engine on behalf of the finance officer.
func (s *EnrollmentService) RecordPayment(ctx context.Context, id string, req dto.RecordPaymentRequest, claims *models.JWTClaims) (*dto.PaymentResult, error) {
	if err := requireRole(claims, models.RoleFinance); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	payment := &models.Payment{
		ID:           uuid.NewString(),
		EnrollmentID: id,
		AmountCents:  req.AmountCents,
		Reference:    req.Reference,
		RecordedBy:   claims.UserID,
		PaidAt:       s.now(),
	}
	enrollment, balance, err := s.payments.RecordPayment(ctx, payment, func(e *models.Enrollment) error {
		if e.Status != models.EnrollmentStatusForPayment {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("payments are accepted only in %s, enrollment is %s", models.EnrollmentStatusForPayment, e.Status))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("payment reference %s already recorded", req.Reference))
		}
		return nil, mapStoreError(err, "enrollment not found", "failed to record payment")
	}

	result := &dto.PaymentResult{Payment: *payment, Enrollment: *enrollmentView(enrollment, balance)}
	if balance.OutstandingCents() > 0 {
		return result, nil
	}

	evt, err := s.engine.Transition(ctx, workflow.TypeEnrollment, id,
		workflow.Status(models.EnrollmentStatusOfficiallyEnrolled),
		workflow.Status(models.EnrollmentStatusForPayment),
		workflow.ActorFromClaims(claims))
	if err != nil {
		// The payment stands; the transition can be requested again.
		s.logger.Warn("settled enrollment not promoted", zap.String("enrollment_id", id), zap.Error(err))
		return result, nil
	}
	result.Transition = ToTransitionResponse(evt)
	result.Enrollment.Status = models.EnrollmentStatus(evt.To)
	result.Enrollment.Version = evt.Version
	return result, nil
}

// Ledger lists fees and payments of an enrollment.
func (s *EnrollmentService) Ledger(ctx context.Context, id string, claims *models.JWTClaims) (*dto.LedgerResponse, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, enrollment.StudentID, models.RoleFinance, models.RoleRegistrar, models.RoleAdmin); err != nil {
		return nil, err
	}
	fees, err := s.payments.ListFees(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fees")
	}
	payments, err := s.payments.ListPayments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	balance, err := s.repo.Balance(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load balance")
	}
	if fees == nil {
		fees = []models.Fee{}
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return &dto.LedgerResponse{
		EnrollmentID: id,
		Fees:         fees,
		Payments:     payments,
		Balance:      balance,
		BalanceCents: balance.OutstandingCents(),
	}, nil
}

func (s *EnrollmentService) load(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "enrollment not found", "failed to load enrollment")
	}
	return enrollment, nil
}

func enrollmentView(e *models.Enrollment, b models.Balance) *models.EnrollmentView {
	return &models.EnrollmentView{
		Enrollment:    *e,
		AssessedCents: b.AssessedCents,
		PaidCents:     b.PaidCents,
		BalanceCents:  b.OutstandingCents(),
	}
}

func documentsEditable(e *models.Enrollment) error {
	if e.Status != models.EnrollmentStatusRegistered && e.Status != models.EnrollmentStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("documents are locked once enrollment is %s", e.Status))
	}
	return nil
}

func validDocumentKind(kind models.DocumentKind) bool {
	for _, k := range models.DocumentKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// mapStoreError turns sql.ErrNoRows into NotFound, passes typed errors
// through and wraps the rest as internal.
func mapStoreError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return wrapInternal(err, internal)
}
