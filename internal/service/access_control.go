package service

import (
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// requireRole lets the caller through when its role is one of roles.
func requireRole(claims *models.JWTClaims, roles ...models.UserRole) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	return workflow.Authorize(workflow.ActorFromClaims(claims), roles, false, "")
}

// requireOwnerOr lets the owner of a record through, or any of roles.
func requireOwnerOr(claims *models.JWTClaims, ownerID string, roles ...models.UserRole) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	return workflow.Authorize(workflow.ActorFromClaims(claims), roles, true, ownerID)
}

// staffViewers may read any student's workflow records.
var staffViewers = []models.UserRole{
	models.RoleRegistrar,
	models.RoleFinance,
	models.RoleProgramHead,
	models.RoleDean,
	models.RoleAdmin,
}

// resolveSubject picks the student a request is about: students always act
// for themselves, registrar staff may name another student.
func resolveSubject(claims *models.JWTClaims, requested string) (string, error) {
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleStudent:
		if requested != "" && requested != claims.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only file for themselves")
		}
		return claims.UserID, nil
	case models.RoleRegistrar, models.RoleAdmin:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
		}
		return requested, nil
	default:
		return "", appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" may not file on behalf of students")
	}
}
