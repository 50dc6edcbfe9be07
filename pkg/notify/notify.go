package notify

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/pkg/config"
)

// Gateway delivers templated notifications. Delivery is best effort; callers
// decide whether an error is retried.
type Gateway interface {
	Send(ctx context.Context, templateID, recipient string, vars map[string]string) error
}

// New selects the gateway configured for the environment.
func New(cfg config.NotificationConfig, logger *zap.Logger) (Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return NewLogGateway(logger), nil
	}
	switch cfg.Provider {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("sendgrid provider requires SENDGRID_API_KEY")
		}
		return NewSendGridGateway(cfg, logger), nil
	case "", "log":
		return NewLogGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
	}
}

// LogGateway writes notifications to the structured log instead of sending them.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway constructs a log-only gateway.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger}
}

// Send implements Gateway.
func (g *LogGateway) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("notification recipient required")
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := []zap.Field{
		zap.String("template", templateID),
		zap.String("recipient", recipient),
	}
	for _, k := range keys {
		fields = append(fields, zap.String("var_"+k, vars[k]))
	}
	g.logger.Info("notification", fields...)
	return nil
}
