// Package notifier posts pipeline events to a webhook. Delivery is best
// effort: failures are logged and never propagate into the pipeline.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/model"
)

// Known pipeline events.
const (
	EventCompleted     = "change.completed"
	EventFailed        = "change.failed"
	EventNeedsReview   = "change.needs_review"
	EventQuotaExceeded = "quota.exceeded"
)

// Notifier delivers events to one webhook URL, filtered by the configured
// event list. The zero value is a disabled notifier.
type Notifier struct {
	WebhookURL string
	Events     []string

	// Client defaults to a 10s-timeout client.
	Client *http.Client
}

type payload struct {
	Event      string `json:"event"`
	ChangeID   string `json:"change_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
}

// Notify posts one event for the item. Unconfigured URLs and unsubscribed
// events are silently skipped. A nil item sends the event alone, for
// run-level events like quota.exceeded.
func (n *Notifier) Notify(ctx context.Context, event string, item *model.WorkItem) {
	if n.WebhookURL == "" || !slices.Contains(n.Events, event) {
		return
	}
	logger := ctxlog.FromContext(ctx)

	p := payload{Event: event}
	if item != nil {
		p.ChangeID = item.ID
		p.Title = item.Title
		p.Status = string(item.Status)
		p.RetryCount = item.RetryCount
	}
	body, err := json.Marshal(p)
	if err != nil {
		logger.Warn("Dropping notification.", "event", event, "error", err)
		return
	}

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Warn("Dropping notification.", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Webhook delivery failed.", "event", event, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Warn("Webhook rejected notification.", "event", event, "status", resp.StatusCode)
	}
}
