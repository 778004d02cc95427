package notify

import (
	"context"
	"time"

	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/record"
)

// WebhookNotifier posts the deployment record as JSON to a generic
// endpoint. The body is exactly what the local store writes, so
// receivers can reuse record.Unmarshal.
type WebhookNotifier struct {
	timing timingConfig
	poster *httpPoster
}

// WebhookOption customizes WebhookNotifier behavior.
type WebhookOption func(*WebhookNotifier)

// WithWebhookTiming overrides timing parameters (primarily for testing).
func WithWebhookTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) WebhookOption {
	return func(w *WebhookNotifier) {
		w.timing.rateInterval = rateInterval
		w.timing.rateBurst = rateBurst
		w.timing.backoffInitial = backoffInitial
		w.timing.backoffMax = backoffMax
		w.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewWebhookNotifier creates a webhook notifier, or a noop when the URL
// is empty.
func NewWebhookNotifier(webhookURL string, opts ...WebhookOption) Notifier {
	if webhookURL == "" {
		return Noop{}
	}

	notifier := &WebhookNotifier{timing: defaultTiming}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newHTTPPoster("webhook", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	payload, err := rec.Marshal()
	if err != nil {
		return err
	}
	if err := n.poster.postWithRetry(ctx, payload); err != nil {
		return err
	}

	logging.Debug("webhook notification sent", "app", rec.App, "runState", string(rec.RunState))
	return nil
}
