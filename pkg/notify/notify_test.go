package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/school-portal-api/pkg/config"
)

func TestNewSelectsGateway(t *testing.T) {
	gw, err := New(config.NotificationConfig{Enabled: false, Provider: "sendgrid"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogGateway{}, gw)

	_, err = New(config.NotificationConfig{Enabled: true, Provider: "sendgrid"}, nil)
	assert.Error(t, err)

	gw, err = New(config.NotificationConfig{Enabled: true, Provider: "sendgrid", SendGridAPIKey: "key"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SendGridGateway{}, gw)

	_, err = New(config.NotificationConfig{Enabled: true, Provider: "pigeon"}, nil)
	assert.Error(t, err)
}

func TestLogGatewaySend(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := NewLogGateway(zap.New(core))

	err := gw.Send(context.Background(), config.TemplateEnrollmentStatus, "student@school.local", map[string]string{"status": "Verified"})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "notification", entry.Message)
	assert.Equal(t, "Verified", entry.ContextMap()["var_status"])

	assert.Error(t, gw.Send(context.Background(), "tpl", "", nil))
}

func TestSendGridPrepareUsesConfiguredTemplate(t *testing.T) {
	gw := NewSendGridGateway(config.NotificationConfig{
		SendGridAPIKey: "key",
		FromName:       "Registrar",
		FromEmail:      "registrar@school.local",
		Templates:      map[string]string{config.TemplateCreditTransferStatus: "d-123"},
	}, nil)

	body := gw.prepare(config.TemplateCreditTransferStatus, "student@school.local", map[string]string{"status": "registrar_approved"})
	raw := sgmailJSON(t, body)

	assert.Equal(t, "d-123", raw["template_id"])
	personalizations := raw["personalizations"].([]interface{})
	require.Len(t, personalizations, 1)
	data := personalizations[0].(map[string]interface{})["dynamic_template_data"].(map[string]interface{})
	assert.Equal(t, "registrar_approved", data["status"])

	assert.Equal(t, "raw-id", gw.resolveTemplate("raw-id"))
}

func sgmailJSON(t *testing.T, m interface{}) map[string]interface{} {
	t.Helper()
	payload, err := json.Marshal(m)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}
