package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/record"
)

// SlackNotifier posts a deployment summary to a Slack incoming webhook.
type SlackNotifier struct {
	channel string
	timing  timingConfig
	poster  *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier, or a noop when the webhook
// URL is empty.
func NewSlackNotifier(webhookURL, channel string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return Noop{}
	}

	notifier := &SlackNotifier{
		channel: channel,
		timing:  defaultTiming,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newHTTPPoster("slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(buildSlackMessage(rec, n.channel))
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	if err := n.poster.postWithRetry(ctx, payload); err != nil {
		return err
	}

	logging.Debug("slack notification sent", "app", rec.App, "runState", string(rec.RunState))
	return nil
}

func buildSlackMessage(rec *record.Record, channel string) slack.WebhookMessage {
	summary := fmt.Sprintf("%s Deploy %s: %s", runStateEmoji(rec.RunState), rec.App, rec.RunState)
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, true, false))

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Provider: *%s*", rec.Provider), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Health: *%s*", rec.HealthStatus), false, false),
	}
	if rec.VersionTag != "" {
		contextElements = append(contextElements,
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Version: `%s`", rec.VersionTag), false, false))
	}
	if d := rec.FinishedAt.Sub(rec.StartedAt); d > 0 {
		contextElements = append(contextElements,
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Took: %s", d.Round(time.Second)), false, false))
	}
	contextBlock := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, contextBlock}
	if overview := buildNodeOverview(rec.PerNode); overview != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", overview, false, false), nil, nil))
	}
	for _, res := range rec.PerNode {
		if res.Status != ir.StatusFailed {
			continue
		}
		blocks = append(blocks, buildFailureBlock(res))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Channel: channel,
		Text:    summary,
		Blocks:  &blockSet,
	}
}

func buildNodeOverview(results []*ir.ExecutionResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, fmt.Sprintf("%s `%s` %s", statusEmoji(res.Status), res.Identity, res.Status))
	}
	return strings.Join(lines, "\n")
}

func buildFailureBlock(res *ir.ExecutionResult) slack.Block {
	title := slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf("*%s* failed (`%s`)", res.NodeID, res.ErrorKind), false, false)

	var fields []*slack.TextBlockObject
	if res.ErrorDetail != "" {
		fields = append(fields,
			slack.NewTextBlockObject("mrkdwn", "*Detail:*\n"+res.ErrorDetail, false, false))
	}
	return slack.NewSectionBlock(title, fields, nil)
}

func runStateEmoji(state ir.RunState) string {
	switch state {
	case ir.RunSucceeded:
		return ":rocket:"
	case ir.RunPartiallyFailed:
		return ":warning:"
	default:
		return ":x:"
	}
}

func statusEmoji(status ir.Status) string {
	switch status {
	case ir.StatusCreated, ir.StatusUpdated:
		return ":white_check_mark:"
	case ir.StatusAlreadyExists:
		return ":fast_forward:"
	case ir.StatusFailed:
		return ":x:"
	default:
		return ":hourglass:"
	}
}
