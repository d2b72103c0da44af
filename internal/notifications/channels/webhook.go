package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/appliance-health/healthd/internal/models"
)

// WebhookChannel implements webhook notifications
type WebhookChannel struct {
	name   string
	config models.WebhookConfig
	poster
}

// NewWebhookChannel creates a new webhook channel
func NewWebhookChannel(ch *models.NotificationChannel) (*WebhookChannel, error) {
	var webhookConfig models.WebhookConfig
	if err := decodeConfig(ch, &webhookConfig); err != nil {
		return nil, err
	}

	if webhookConfig.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	return &WebhookChannel{
		name:   ch.Name,
		config: webhookConfig,
		poster: newPoster(),
	}, nil
}

// Send posts the event as JSON
func (wc *WebhookChannel) Send(ctx context.Context, message string, event models.EventLog) error {
	payload := map[string]interface{}{
		"id":        event.ID,
		"message":   message,
		"kind":      event.Kind,
		"component": event.Component,
		"key":       event.Key,
		"timestamp": event.CreatedAt.Format(time.RFC3339),
	}
	if len(event.Attributes) > 0 {
		payload["attributes"] = event.Attributes
	}
	if len(event.Extras) > 0 {
		payload["extras"] = event.Extras
	}

	if err := wc.postJSON(ctx, wc.config.URL, payload, wc.config.Headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Test sends a test notification
func (wc *WebhookChannel) Test(ctx context.Context) error {
	e := testEvent()
	return wc.Send(ctx, e.Message, e)
}

// Type returns the channel type
func (wc *WebhookChannel) Type() string {
	return models.ChannelTypeWebhook
}

// Name returns the channel name
func (wc *WebhookChannel) Name() string {
	return wc.name
}
