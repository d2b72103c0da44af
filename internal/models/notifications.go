package models

import "time"

// Channel types
const (
	ChannelTypeWebhook = "webhook"
	ChannelTypeNtfy    = "ntfy"
	ChannelTypeInApp   = "in_app"
)

// NotificationChannel is a configured delivery target for events.
type NotificationChannel struct {
	ID        int64                  `json:"id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Config    map[string]interface{} `json:"config"`
	Enabled   bool                   `json:"enabled"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// WebhookConfig is the config of a webhook channel.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NtfyConfig is the config of an ntfy channel.
type NtfyConfig struct {
	ServerURL string `json:"server_url"`
	Topic     string `json:"topic"`
	Token     string `json:"token,omitempty"`
}

// DeliveryLog records one attempt to deliver an event to a channel.
type DeliveryLog struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	ChannelID int64     `json:"channel_id"`
	SentAt    time.Time `json:"sent_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}
