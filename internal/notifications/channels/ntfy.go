package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
)

// NtfyChannel implements ntfy.sh notifications
type NtfyChannel struct {
	name   string
	config models.NtfyConfig
	poster
}

// NewNtfyChannel creates a new ntfy channel
func NewNtfyChannel(ch *models.NotificationChannel) (*NtfyChannel, error) {
	var ntfyConfig models.NtfyConfig
	if err := decodeConfig(ch, &ntfyConfig); err != nil {
		return nil, err
	}

	if ntfyConfig.ServerURL == "" {
		ntfyConfig.ServerURL = "https://ntfy.sh"
	}
	ntfyConfig.ServerURL = strings.TrimSuffix(ntfyConfig.ServerURL, "/")

	if ntfyConfig.Topic == "" {
		return nil, fmt.Errorf("ntfy topic is required")
	}

	return &NtfyChannel{
		name:   ch.Name,
		config: ntfyConfig,
		poster: newPoster(),
	}, nil
}

// Send publishes the message to the configured topic
func (nc *NtfyChannel) Send(ctx context.Context, message string, event models.EventLog) error {
	ntfyMsg := map[string]interface{}{
		"topic":    nc.config.Topic,
		"message":  message,
		"title":    fmt.Sprintf("healthd: %s", event.Component),
		"priority": nc.getPriority(event.Kind),
		"tags":     nc.getTags(event.Kind),
	}

	var headers map[string]string
	if nc.config.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + nc.config.Token}
	}

	if err := nc.postJSON(ctx, nc.config.ServerURL, ntfyMsg, headers); err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	return nil
}

// getPriority returns ntfy priority based on event kind
func (nc *NtfyChannel) getPriority(kind string) int {
	switch {
	case events.IsRecovery(kind):
		return 3 // Default
	case kind == string(events.ComponentNotFoundEvent), strings.HasPrefix(kind, "Snapshot"):
		return 5 // Max
	case strings.HasSuffix(kind, "SpeedChangeEvent"):
		return 3
	default:
		return 4 // High
	}
}

// getTags returns ntfy tags based on event kind
func (nc *NtfyChannel) getTags(kind string) []string {
	switch {
	case events.IsRecovery(kind):
		return []string{"white_check_mark"}
	case strings.HasSuffix(kind, "SpeedChangeEvent"):
		return []string{"arrows_counterclockwise"}
	case strings.HasSuffix(kind, "DownEvent"):
		return []string{"octagonal_sign"}
	case kind == string(events.ComponentNotFoundEvent):
		return []string{"mag"}
	default:
		return []string{"warning"}
	}
}

// Test sends a test notification
func (nc *NtfyChannel) Test(ctx context.Context) error {
	e := testEvent()
	return nc.Send(ctx, e.Message, e)
}

// Type returns the channel type
func (nc *NtfyChannel) Type() string {
	return models.ChannelTypeNtfy
}

// Name returns the channel name
func (nc *NtfyChannel) Name() string {
	return nc.name
}
