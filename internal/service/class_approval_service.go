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

type classApprovalStore interface {
	Create(ctx context.Context, ca *models.ClassApproval) error
	GetByID(ctx context.Context, id string) (*models.ClassApproval, error)
	Counts(ctx context.Context, id string) (models.ClassApprovalCounts, error)
	ListGrades(ctx context.Context, id string) ([]models.ClassGradeRecord, error)
	UpsertGrades(ctx context.Context, id string, records []models.ClassGradeRecord, check func(*models.ClassApproval) error) error
	SetRegistrarApproval(ctx context.Context, id, studentID string, approved bool, check func(*models.ClassApproval) error) error
	VisibleGradesForStudent(ctx context.Context, studentID string) ([]models.VisibleGrade, error)
}

// ClassApprovalService manages class grade records and their approval.
type ClassApprovalService struct {
	repo      classApprovalStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewClassApprovalService builds a ClassApprovalService.
func NewClassApprovalService(repo classApprovalStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ClassApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassApprovalService{
		repo:      repo,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens the approval record for an instructor assignment.
func (s *ClassApprovalService) Create(ctx context.Context, req dto.CreateClassApprovalRequest, claims *models.JWTClaims) (*models.ClassApprovalView, error) {
	if err := requireRole(claims, models.RoleProgramHead, models.RoleRegistrar, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class approval payload")
	}
	now := s.now()
	ca := &models.ClassApproval{
		ID:               uuid.NewString(),
		CourseOfferingID: req.CourseOfferingID,
		InstructorID:     req.InstructorID,
		Status:           models.ClassApprovalStatus(workflow.MustLookup(workflow.TypeClassApproval).Initial()),
		Version:          1,
		Cycle:            1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, ca); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class approval already exists for this assignment")
		}
		return nil, wrapInternal(err, "failed to create class approval")
	}
	return &models.ClassApprovalView{ClassApproval: *ca}, nil
}

// Get returns an approval with its grade counts.
func (s *ClassApprovalService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.ClassApprovalView, error) {
	ca, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, ca.InstructorID, staffViewers...); err != nil {
		return nil, err
	}
	counts, err := s.repo.Counts(ctx, id)
	if err != nil {
		return nil, wrapInternal(err, "failed to count grade records")
	}
	return &models.ClassApprovalView{ClassApproval: *ca, Counts: counts}, nil
}

// ListGrades returns every grade record of a class.
func (s *ClassApprovalService) ListGrades(ctx context.Context, id string, claims *models.JWTClaims) ([]models.ClassGradeRecord, error) {
	ca, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOr(claims, ca.InstructorID, staffViewers...); err != nil {
		return nil, err
	}
	records, err := s.repo.ListGrades(ctx, id)
	if err != nil {
		return nil, wrapInternal(err, "failed to list grade records")
	}
	if records == nil {
		records = []models.ClassGradeRecord{}
	}
	return records, nil
}

// UpsertGrades lets the assigned instructor write grades until the class is
// final.
func (s *ClassApprovalService) UpsertGrades(ctx context.Context, id string, req dto.UpsertGradesRequest, claims *models.JWTClaims) ([]models.ClassGradeRecord, error) {
	if err := requireRole(claims, models.RoleInstructor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grades payload")
	}

	now := s.now()
	records := make([]models.ClassGradeRecord, 0, len(req.Grades))
	seen := make(map[string]struct{}, len(req.Grades))
	for _, g := range req.Grades {
		if _, dup := seen[g.StudentID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s listed more than once", g.StudentID))
		}
		seen[g.StudentID] = struct{}{}
		records = append(records, models.ClassGradeRecord{
			ID:        uuid.NewString(),
			StudentID: g.StudentID,
			Grade:     g.Grade,
			Remarks:   g.Remarks,
			UpdatedAt: now,
		})
	}

	err := s.repo.UpsertGrades(ctx, id, records, func(ca *models.ClassApproval) error {
		if ca.InstructorID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the assigned instructor may edit grades")
		}
		return gradesEditable(ca)
	})
	if err != nil {
		return nil, mapStoreError(err, "class approval or student not found", "failed to save grades")
	}
	s.logger.Info("class grades saved", zap.String("class_approval_id", id), zap.Int("records", len(records)))
	return records, nil
}

// SetRegistrarApproval sets the registrar flag on one student's grade.
func (s *ClassApprovalService) SetRegistrarApproval(ctx context.Context, id, studentID string, req dto.RegistrarApprovalRequest, claims *models.JWTClaims) error {
	if err := requireRole(claims, models.RoleRegistrar); err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registrar approval payload")
	}
	if err := s.repo.SetRegistrarApproval(ctx, id, studentID, *req.Approved, gradesEditable); err != nil {
		return mapStoreError(err, "grade record not found", "failed to update registrar approval")
	}
	return nil
}

// VisibleGrades returns the grades a student may see: those in Final classes.
func (s *ClassApprovalService) VisibleGrades(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.VisibleGrade, CacheResult, error) {
	if err := requireOwnerOr(claims, studentID, staffViewers...); err != nil {
		return nil, CacheResult{}, err
	}
	grades, res, err := Fetch(ctx, s.cache, GradesCacheKey(studentID), func(ctx context.Context) ([]models.VisibleGrade, error) {
		items, err := s.repo.VisibleGradesForStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []models.VisibleGrade{}
		}
		return items, nil
	})
	if err != nil {
		return nil, CacheResult{}, wrapInternal(err, "failed to load grades")
	}
	return grades, res, nil
}

func (s *ClassApprovalService) load(ctx context.Context, id string) (*models.ClassApproval, error) {
	ca, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "class approval not found", "failed to load class approval")
	}
	return ca, nil
}

func gradesEditable(ca *models.ClassApproval) error {
	if ca.Status == models.ClassApprovalFinal {
		return appErrors.Clone(appErrors.ErrFinalized, "grades are locked once the class is Final")
	}
	return nil
}
