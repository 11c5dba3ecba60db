package notify

import (
	"context"
	"time"

	"github.com/shintairiku/cohere-rag/internal/config"
	"github.com/shintairiku/cohere-rag/internal/model"
)

// Notifier announces sync outcomes to an external channel. Implementations
// must be safe for concurrent use; delivery failures are the caller's to log,
// never to act on.
type Notifier interface {
	RunFinished(ctx context.Context, tenant model.Tenant, result *model.SyncResult, runErr error) error
	BatchFinished(ctx context.Context, report *model.Report) error
}

// New returns a webhook notifier when a URL is configured, otherwise a no-op.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return NopNotifier{}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewWebhook(cfg.WebhookURL, timeout)
}

type NopNotifier struct{}

func (NopNotifier) RunFinished(ctx context.Context, tenant model.Tenant, result *model.SyncResult, runErr error) error {
	return nil
}

func (NopNotifier) BatchFinished(ctx context.Context, report *model.Report) error {
	return nil
}
