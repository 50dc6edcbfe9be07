package middleware

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

// FeatureChecker resolves whether a gated portal feature is open to a student.
type FeatureChecker interface {
	FeatureUnlocked(ctx context.Context, studentID string, feature models.StudentFeature) (bool, error)
}

// RequireFeature blocks students whose access to feature is locked. Staff
// roles pass through.
func RequireFeature(checker FeatureChecker, feature models.StudentFeature) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if claims.Role != models.RoleStudent {
			c.Next()
			return
		}

		unlocked, err := checker.FeatureUnlocked(c.Request.Context(), claims.UserID, feature)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !unlocked {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is locked until official enrollment", feature)))
			c.Abort()
			return
		}
		c.Next()
	}
}
