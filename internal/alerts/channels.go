package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/models"
)

// Channel delivers alert lifecycle events to one destination.
type Channel interface {
	Name() string
	Dispatch(ctx context.Context, alert *models.Alert) error
	DispatchEscalation(ctx context.Context, alert *models.Alert) error
	DispatchResolution(ctx context.Context, alert *models.Alert) error
}

// ConsoleChannel writes alert events to the process log. Format "simple"
// collapses the event to a single human line; anything else logs the full
// structured record.
type ConsoleChannel struct {
	name   string
	format string
}

// NewConsoleChannel creates a log-backed channel.
func NewConsoleChannel(name string, cfg config.ChannelConfig) *ConsoleChannel {
	return &ConsoleChannel{name: name, format: cfg.Format}
}

func (c *ConsoleChannel) Name() string { return c.name }

func (c *ConsoleChannel) emit(event string, alert *models.Alert) {
	if c.format == "simple" {
		log.Info().Msgf("[%s] %s %s %s on %s/%s value=%s threshold=%s",
			alert.Priority, event, alert.AlertType, alert.Severity,
			alert.Venue, alert.Instrument, alert.TriggerValue, alert.TriggerThreshold)
		return
	}
	e := log.Info().
		Str("event", event).
		Str("alert_id", alert.AlertID).
		Str("alert_type", alert.AlertType).
		Str("priority", string(alert.Priority)).
		Str("severity", string(alert.Severity)).
		Str("venue", alert.Venue).
		Str("instrument", alert.Instrument).
		Str("metric", alert.TriggerMetric).
		Str("value", alert.TriggerValue.String()).
		Str("threshold", alert.TriggerThreshold.String())
	if alert.ZScoreValue != nil {
		e = e.Str("zscore", alert.ZScoreValue.String())
	}
	e.Msg("alert")
}

func (c *ConsoleChannel) Dispatch(_ context.Context, alert *models.Alert) error {
	c.emit("triggered", alert)
	return nil
}

func (c *ConsoleChannel) DispatchEscalation(_ context.Context, alert *models.Alert) error {
	c.emit("escalated", alert)
	return nil
}

func (c *ConsoleChannel) DispatchResolution(_ context.Context, alert *models.Alert) error {
	c.emit("resolved", alert)
	return nil
}

// WebhookChannel POSTs alert events as JSON to a configured URL.
type WebhookChannel struct {
	name      string
	url       string
	username  string
	iconEmoji string
	http      *http.Client
}

// NewWebhookChannel creates an HTTP-backed channel.
func NewWebhookChannel(name string, cfg config.ChannelConfig) *WebhookChannel {
	return &WebhookChannel{
		name:      name,
		url:       cfg.WebhookURL,
		username:  cfg.Username,
		iconEmoji: cfg.IconEmoji,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

type webhookPayload struct {
	Event     string        `json:"event"`
	Username  string        `json:"username,omitempty"`
	IconEmoji string        `json:"icon_emoji,omitempty"`
	Alert     *models.Alert `json:"alert"`
}

func (w *WebhookChannel) post(ctx context.Context, event string, alert *models.Alert) error {
	if w.url == "" {
		return fmt.Errorf("webhook channel %s has no url", w.name)
	}

	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Username:  w.username,
		IconEmoji: w.iconEmoji,
		Alert:     alert,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", w.name, resp.StatusCode)
	}
	return nil
}

func (w *WebhookChannel) Dispatch(ctx context.Context, alert *models.Alert) error {
	return w.post(ctx, "triggered", alert)
}

func (w *WebhookChannel) DispatchEscalation(ctx context.Context, alert *models.Alert) error {
	return w.post(ctx, "escalated", alert)
}

func (w *WebhookChannel) DispatchResolution(ctx context.Context, alert *models.Alert) error {
	return w.post(ctx, "resolved", alert)
}
