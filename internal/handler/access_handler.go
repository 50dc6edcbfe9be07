package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

type accessService interface {
	Get(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.AccessView, service.CacheResult, error)
}

// AccessHandler reports which portal features a student has unlocked.
type AccessHandler struct {
	service accessService
}

// NewAccessHandler constructs AccessHandler.
func NewAccessHandler(svc accessService) *AccessHandler {
	return &AccessHandler{service: svc}
}

// Get godoc
// @Summary Feature access for a student
// @Description Served from cache when possible; meta.staleness_ms reports the age of a cached view.
// @Tags Access
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/access [get]
func (h *AccessHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	view, res, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil, cacheMeta(c, res))
}
