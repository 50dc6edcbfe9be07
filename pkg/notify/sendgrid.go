package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/pkg/config"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridGateway sends dynamic-template emails through the SendGrid v3 API.
type SendGridGateway struct {
	key       string
	host      string
	from      *sgmail.Email
	templates map[string]string
	logger    *zap.Logger
}

// NewSendGridGateway builds a gateway from notification config. Template keys
// not present in cfg.Templates are passed through as SendGrid template IDs.
func NewSendGridGateway(cfg config.NotificationConfig, logger *zap.Logger) *SendGridGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridGateway{
		key:       cfg.SendGridAPIKey,
		host:      sendGridHost,
		from:      sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		templates: cfg.Templates,
		logger:    logger,
	}
}

// Send implements Gateway.
func (g *SendGridGateway) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("notification recipient required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(g.key, sendGridEndpoint, g.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(g.prepare(templateID, recipient, vars))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		g.logger.Warn("sendgrid rejected message",
			zap.String("template", templateID),
			zap.Int("status", res.StatusCode),
			zap.String("body", res.Body),
		)
		return fmt.Errorf("sendgrid send: status %d", res.StatusCode)
	}
	return nil
}

func (g *SendGridGateway) prepare(templateID, recipient string, vars map[string]string) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(vars["recipient_name"], recipient))
	for k, v := range vars {
		p.SetDynamicTemplateData(k, v)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(g.from)
	m.SetTemplateID(g.resolveTemplate(templateID))
	m.AddPersonalizations(p)
	return m
}

func (g *SendGridGateway) resolveTemplate(key string) string {
	if id, ok := g.templates[key]; ok && id != "" {
		return id
	}
	return key
}
