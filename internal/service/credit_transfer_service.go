package service

import (
	"context"
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

type creditTransferStore interface {
	Create(ctx context.Context, req *models.CreditTransferRequest) error
	GetByID(ctx context.Context, id string) (*models.CreditTransferRequest, error)
	ListEquivalencies(ctx context.Context, requestID string) ([]models.CourseEquivalency, error)
	SetTranscript(ctx context.Context, id, ref string, check func(*models.CreditTransferRequest) error) error
	AddEquivalency(ctx context.Context, eq *models.CourseEquivalency, check func(*models.CreditTransferRequest) error) error
	UpdateEquivalency(ctx context.Context, eq *models.CourseEquivalency, check func(*models.CreditTransferRequest) error) error
	RemoveEquivalency(ctx context.Context, requestID, equivalencyID string, check func(*models.CreditTransferRequest) error) error
	ListCredits(ctx context.Context, studentID string) ([]models.AcademicCredit, error)
}

// CreditTransferService manages transcript-of-records evaluations.
type CreditTransferService struct {
	repo      creditTransferStore
	documents documentKeeper
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCreditTransferService builds a CreditTransferService.
func NewCreditTransferService(repo creditTransferStore, documents documentKeeper, validate *validator.Validate, logger *zap.Logger) *CreditTransferService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditTransferService{
		repo:      repo,
		documents: documents,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create files a new request in the initial status.
func (s *CreditTransferService) Create(ctx context.Context, req dto.CreateCreditTransferRequest, claims *models.JWTClaims) (*models.CreditTransferView, error) {
	studentID, err := resolveSubject(claims, req.StudentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	record := &models.CreditTransferRequest{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Status:    models.CreditTransferStatus(workflow.MustLookup(workflow.TypeCreditTransfer).Initial()),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an open credit transfer request")
		}
		return nil, wrapInternal(err, "failed to create credit transfer request")
	}
	return &models.CreditTransferView{CreditTransferRequest: *record, Equivalencies: []models.CourseEquivalency{}}, nil
}

// Get returns a request with its equivalency rows.
func (s *CreditTransferService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.CreditTransferView, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, record.StudentID, staffViewers...); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListEquivalencies(ctx, id)
	if err != nil {
		return nil, wrapInternal(err, "failed to list equivalencies")
	}
	if rows == nil {
		rows = []models.CourseEquivalency{}
	}
	return &models.CreditTransferView{CreditTransferRequest: *record, Equivalencies: rows}, nil
}

// UploadTranscript stores the student's transcript while the request is pending.
func (s *CreditTransferService) UploadTranscript(ctx context.Context, id string, upload Upload, claims *models.JWTClaims) (*dto.DocumentLink, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, record.StudentID, models.RoleRegistrar); err != nil {
		return nil, err
	}
	pendingOnly := func(r *models.CreditTransferRequest) error {
		if r.Status != models.CreditTransferPending {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("transcript is locked once request is %s", r.Status))
		}
		return nil
	}
	if err := pendingOnly(record); err != nil {
		return nil, err
	}
	ref, err := s.documents.Store(fmt.Sprintf("credit-transfers/%s/transcript", id), upload)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetTranscript(ctx, id, ref, pendingOnly); err != nil {
		s.documents.Discard(ref)
		return nil, mapStoreError(err, "credit transfer request not found", "failed to attach transcript")
	}
	return s.documents.Link(id, "transcript", ref)
}

// AddEquivalency appends an equivalency row.
func (s *CreditTransferService) AddEquivalency(ctx context.Context, id string, req dto.EquivalencyRequest, claims *models.JWTClaims) (*models.CourseEquivalency, error) {
	if err := requireRole(claims, models.RoleProgramHead); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid equivalency payload")
	}
	now := s.now()
	eq := equivalencyFromRequest(req)
	eq.ID = uuid.NewString()
	eq.RequestID = id
	eq.CreatedAt = now
	eq.UpdatedAt = now
	if err := s.repo.AddEquivalency(ctx, &eq, equivalenciesEditable); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "equivalency already exists")
		}
		return nil, mapStoreError(err, "credit transfer request not found", "failed to add equivalency")
	}
	return &eq, nil
}

// UpdateEquivalency replaces an equivalency row.
func (s *CreditTransferService) UpdateEquivalency(ctx context.Context, id, equivalencyID string, req dto.EquivalencyRequest, claims *models.JWTClaims) (*models.CourseEquivalency, error) {
	if err := requireRole(claims, models.RoleProgramHead); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid equivalency payload")
	}
	eq := equivalencyFromRequest(req)
	eq.ID = equivalencyID
	eq.RequestID = id
	eq.UpdatedAt = s.now()
	if err := s.repo.UpdateEquivalency(ctx, &eq, equivalenciesEditable); err != nil {
		return nil, mapStoreError(err, "equivalency not found", "failed to update equivalency")
	}
	return &eq, nil
}

// RemoveEquivalency deletes an equivalency row.
func (s *CreditTransferService) RemoveEquivalency(ctx context.Context, id, equivalencyID string, claims *models.JWTClaims) error {
	if err := requireRole(claims, models.RoleProgramHead); err != nil {
		return err
	}
	if err := s.repo.RemoveEquivalency(ctx, id, equivalencyID, equivalenciesEditable); err != nil {
		return mapStoreError(err, "equivalency not found", "failed to remove equivalency")
	}
	return nil
}

// Credits lists the permanent credits committed for a student.
func (s *CreditTransferService) Credits(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.AcademicCredit, error) {
	if err := requireOwnerOr(claims, studentID, staffViewers...); err != nil {
		return nil, err
	}
	credits, err := s.repo.ListCredits(ctx, studentID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list credits")
	}
	if credits == nil {
		credits = []models.AcademicCredit{}
	}
	return credits, nil
}

func (s *CreditTransferService) load(ctx context.Context, id string) (*models.CreditTransferRequest, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "credit transfer request not found", "failed to load credit transfer request")
	}
	return record, nil
}

func equivalenciesEditable(r *models.CreditTransferRequest) error {
	if !r.Editable() {
		return appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("equivalencies are locked once request is %s", r.Status))
	}
	return nil
}

func equivalencyFromRequest(req dto.EquivalencyRequest) models.CourseEquivalency {
	return models.CourseEquivalency{
		ExternalCode:       req.ExternalCode,
		ExternalName:       req.ExternalName,
		ExternalGrade:      req.ExternalGrade,
		ExternalUnits:      req.ExternalUnits,
		SourceSchool:       req.SourceSchool,
		SourceAcademicYear: req.SourceAcademicYear,
		EquivalentCourseID: req.EquivalentCourseID,
	}
}
