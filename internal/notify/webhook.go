package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shintairiku/cohere-rag/internal/model"
)

// WebhookNotifier POSTs Slack-compatible text payloads to one incoming
// webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) RunFinished(ctx context.Context, tenant model.Tenant, result *model.SyncResult, runErr error) error {
	var text string
	if runErr != nil {
		text = fmt.Sprintf("image sync failed for %s (%s): %v", tenant.Name, tenant.ID, runErr)
	} else {
		text = fmt.Sprintf("image sync completed for %s (%s): %d embedded, %d skipped, %d removed in %s",
			tenant.Name, tenant.ID, result.Embedded, result.Skipped, result.Removed, result.Duration())
	}
	return n.post(ctx, text)
}

func (n *WebhookNotifier) BatchFinished(ctx context.Context, report *model.Report) error {
	text := fmt.Sprintf("batch sync finished: %d tenants, %d succeeded, %d failed, %d rejected, %d embedded",
		report.Tenants, report.Succeeded, report.Failed, report.Rejected, report.Embedded)
	return n.post(ctx, text)
}

func (n *WebhookNotifier) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
