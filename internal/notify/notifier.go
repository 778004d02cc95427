// Package notify delivers deployment outcome notifications to external
// systems. Notifiers receive the persisted record form, so secret
// values are already stripped before anything leaves the process.
package notify

import (
	"context"

	"github.com/slipway-io/slipway/internal/record"
)

// Notifier delivers the outcome of a finished deployment run.
type Notifier interface {
	Notify(ctx context.Context, rec *record.Record) error
}

// Noop drops notifications.
type Noop struct{}

func (Noop) Notify(context.Context, *record.Record) error { return nil }

// Multi fans out to several notifiers and reports the first failure.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		filtered = append(filtered, n)
	}
	return &Multi{notifiers: filtered}
}

// Notify implements Notifier. Every notifier runs even when an earlier
// one fails; a Slack outage should not silence the generic webhook.
func (m *Multi) Notify(ctx context.Context, rec *record.Record) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
