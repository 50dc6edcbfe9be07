package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
)

type accessServiceMock struct {
	result service.CacheResult
}

func (m *accessServiceMock) Get(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.AccessView, service.CacheResult, error) {
	return &models.AccessView{StudentID: studentID}, m.result, nil
}

type visibleGradesMock struct {
	classApprovalService
	result service.CacheResult
}

func (m *visibleGradesMock) VisibleGrades(ctx context.Context, studentID string, claims *models.JWTClaims) ([]models.VisibleGrade, service.CacheResult, error) {
	return []models.VisibleGrade{}, m.result, nil
}

func decodeMeta(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var body struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Meta
}

func TestAccessHandlerReportsStaleness(t *testing.T) {
	h := NewAccessHandler(&accessServiceMock{result: service.CacheResult{Hit: true, Staleness: 1500 * time.Millisecond}})

	c, w := jsonContext(t, http.MethodGet, "/students/stu-1/access", "", student)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	h.Get(c)

	require.Equal(t, http.StatusOK, w.Code)
	meta := decodeMeta(t, w.Body.Bytes())
	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, float64(1500), meta["staleness_ms"])
	assert.Contains(t, w.Body.String(), `"student_id":"stu-1"`)
}

func TestAccessHandlerMissOmitsStaleness(t *testing.T) {
	h := NewAccessHandler(&accessServiceMock{})

	c, w := jsonContext(t, http.MethodGet, "/students/stu-1/access", "", student)
	h.Get(c)

	require.Equal(t, http.StatusOK, w.Code)
	meta := decodeMeta(t, w.Body.Bytes())
	assert.Equal(t, false, meta["cache_hit"])
	_, ok := meta["staleness_ms"]
	assert.False(t, ok)
}

func TestClassApprovalHandlerVisibleGradesMeta(t *testing.T) {
	h := NewClassApprovalHandler(&visibleGradesMock{result: service.CacheResult{Hit: true, Staleness: 20 * time.Millisecond}})

	c, w := jsonContext(t, http.MethodGet, "/students/stu-1/grades", "", student)
	h.VisibleGrades(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), decodeMeta(t, w.Body.Bytes())["staleness_ms"])
}

func TestMetricsHandlerReadyReportsFailedCheck(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	c, w := jsonContext(t, http.MethodGet, "/health/ready", "", nil)
	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}
