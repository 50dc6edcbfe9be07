package workflow

import (
	"fmt"
	"strings"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// Authorize allows the actor when its role is one of required, or when
// selfService is set and the actor owns the resource. Every denial is a
// Forbidden error carrying the reason.
func Authorize(actor Actor, required []models.UserRole, selfService bool, ownerID string) error {
	if actor.Role == "" || actor.UserID == "" {
		return appErrors.Clone(appErrors.ErrForbidden, "actor is not authenticated")
	}
	for _, role := range required {
		if actor.Role == role {
			return nil
		}
	}
	if selfService && ownerID != "" && actor.UserID == ownerID {
		return nil
	}
	if selfService {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not act on a resource it does not own; requires owner or one of %s", actor.Role, joinRoles(required)))
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s not permitted; requires one of %s", actor.Role, joinRoles(required)))
}

// Can reports whether Authorize would allow the actor.
func Can(actor Actor, required []models.UserRole, selfService bool, ownerID string) bool {
	return Authorize(actor, required, selfService, ownerID) == nil
}

func joinRoles(roles []models.UserRole) string {
	if len(roles) == 0 {
		return "(none)"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
