package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "IntentMCP/internal/errors"
	"IntentMCP/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event describes a lifecycle failure worth notifying operators about.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	IntentID   string
	State      string
	BackendRef string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers an event to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts an event to the configured notifiers.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers events to every registered notifier.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify broadcasts the event to all channels, joining delivery errors.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender defines the outbound mail capability.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier sends alert mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify formats and sends the alert mail.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping", slog.String("intent_id", event.IntentID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("occurred: %s\nintent: %s\nstate: %s\nbackend ref: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.IntentID, event.State, event.BackendRef, event.Code, event.Message)
	if len(event.Metadata) > 0 {
		content += "\ndetails:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender posts a message to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier sends alerts to Slack.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify posts the alert message.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping", slog.String("intent_id", event.IntentID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - intent %s (%s): %s",
		event.Severity, event.Code, event.IntentID, event.State, event.Message)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookNotifier posts the event as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	URL        string
	HTTPClient *http.Client
}

func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify posts the alert payload.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("webhook notifier not configured, skipping", slog.String("intent_id", event.IntentID))
		return nil
	}
	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	payload, err := json.Marshal(map[string]any{
		"code":              event.Code,
		"message":           event.Message,
		"severity":          event.Severity,
		"intent_id":         event.IntentID,
		"state":             event.State,
		"backend_reference": event.BackendRef,
		"metadata":          event.Metadata,
		"occurred_at":       event.OccurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %s", resp.Status)
	}
	return nil
}
