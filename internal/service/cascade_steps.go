package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	"github.com/noah-isme/school-portal-api/pkg/config"
	"github.com/noah-isme/school-portal-api/pkg/notify"
)

type accessWriter interface {
	SetAccess(ctx context.Context, studentID string, unlocked bool, enrollmentID string, at time.Time) error
}

type classRoster interface {
	StudentIDs(ctx context.Context, classApprovalID string) ([]string, error)
}

type creditCommitter interface {
	CommitCredits(ctx context.Context, requestID string) (int, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CascadeDeps are the collaborators the cascade steps act on.
type CascadeDeps struct {
	Access   accessWriter
	Classes  classRoster
	Credits  creditCommitter
	Cache    *CacheService
	Notifier notify.Gateway
	Users    userDirectory
	Logger   *zap.Logger
}

// RegisterCascadeSteps installs the side effects of every workflow.
func RegisterCascadeSteps(d *CascadeDispatcher, deps CascadeDeps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	var (
		enrolled     = workflow.Status(models.EnrollmentStatusOfficiallyEnrolled)
		enrollReject = workflow.Status(models.EnrollmentStatusRejected)
		final        = workflow.Status(models.ClassApprovalFinal)
		classReject  = workflow.Status(models.ClassApprovalRejected)
		approved     = workflow.Status(models.CreditTransferRegistrarApproved)
		torReject    = workflow.Status(models.CreditTransferRejected)
	)

	d.Register(workflow.TypeEnrollment,
		CascadeStep{
			Name: "feature_access",
			Applies: func(evt workflow.Event) bool {
				return evt.To == enrolled || evt.To == enrollReject || evt.Left(enrolled)
			},
			Run: func(ctx context.Context, evt workflow.Event) error {
				unlocked := evt.To == enrolled
				if err := deps.Access.SetAccess(ctx, evt.OwnerID, unlocked, evt.EntityID, evt.CommittedAt); err != nil {
					return err
				}
				return deps.Cache.Invalidate(ctx, AccessCacheKey(evt.OwnerID))
			},
		},
		notifyStep("notify_student", config.TemplateEnrollmentStatus, nil, deps),
	)

	d.Register(workflow.TypeClassApproval,
		CascadeStep{
			Name: "grade_visibility",
			Applies: func(evt workflow.Event) bool {
				return evt.Passed(final) || evt.Passed(classReject)
			},
			Run: func(ctx context.Context, evt workflow.Event) error {
				students, err := deps.Classes.StudentIDs(ctx, evt.EntityID)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(students))
				for _, id := range students {
					keys = append(keys, GradesCacheKey(id))
				}
				return deps.Cache.Invalidate(ctx, keys...)
			},
		},
		notifyStep("notify_instructor", config.TemplateClassApprovalStatus, nil, deps),
	)

	d.Register(workflow.TypeCreditTransfer,
		CascadeStep{
			Name:    "commit_credits",
			Applies: func(evt workflow.Event) bool { return evt.To == approved },
			Run: func(ctx context.Context, evt workflow.Event) error {
				n, err := deps.Credits.CommitCredits(ctx, evt.EntityID)
				if err != nil {
					return err
				}
				deps.Logger.Info("academic credits committed",
					zap.String("request_id", evt.EntityID),
					zap.String("student_id", evt.OwnerID),
					zap.Int("inserted", n),
				)
				return nil
			},
		},
		notifyStep("notify_student", config.TemplateCreditTransferStatus, func(evt workflow.Event) bool {
			return evt.To == approved || evt.To == torReject
		}, deps),
	)
}

// notifyStep emails the entity owner. Unknown or address-less owners are
// skipped rather than retried.
func notifyStep(name, template string, applies func(workflow.Event) bool, deps CascadeDeps) CascadeStep {
	return CascadeStep{
		Name:    name,
		Applies: applies,
		Run: func(ctx context.Context, evt workflow.Event) error {
			if deps.Notifier == nil || deps.Users == nil {
				return nil
			}
			user, err := deps.Users.FindByID(ctx, evt.OwnerID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					deps.Logger.Warn("notification skipped: unknown recipient", zap.String("user_id", evt.OwnerID), zap.String("transition_id", evt.ID))
					return nil
				}
				return fmt.Errorf("load notification recipient: %w", err)
			}
			if user.Email == "" {
				return nil
			}
			return deps.Notifier.Send(ctx, template, user.Email, map[string]string{
				"name":          user.FullName,
				"workflow":      string(evt.Type),
				"entity_id":     evt.EntityID,
				"from_status":   string(evt.From),
				"to_status":     string(evt.To),
				"requested":     string(evt.Requested),
				"transition_id": evt.ID,
			})
		},
	}
}
