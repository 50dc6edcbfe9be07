package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

// RequireRoles lets a request through when the caller holds one of roles.
// It is a coarse route gate; transition permissions come from the workflow
// tables.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return gate(roles, "")
}

// RequireSelfOr allows the caller named by the path parameter param, or any
// of roles.
func RequireSelfOr(param string, roles ...models.UserRole) gin.HandlerFunc {
	return gate(roles, param)
}

func gate(roles []models.UserRole, selfParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		owner := ""
		if selfParam != "" {
			owner = c.Param(selfParam)
		}
		if err := workflow.Authorize(workflow.ActorFromClaims(claims), roles, selfParam != "", owner); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
