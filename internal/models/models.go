package models

import "time"

// Config represents application configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Rules         RulesConfig         `yaml:"rules"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
	// StateFile is an optional JSON SystemState evaluated at start when
	// the database holds no previous state.
	StateFile string `yaml:"state_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	Path   string `yaml:"path"`   // sqlite3 file
	DSN    string `yaml:"dsn"`    // postgres connection string
	// EventRetentionDays bounds the event log; 0 keeps everything.
	EventRetentionDays int `yaml:"event_retention_days"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RulesConfig lists rule types switched off
type RulesConfig struct {
	Disabled []string `yaml:"disabled"`
}

// NotificationsConfig contains outbound notification settings
type NotificationsConfig struct {
	MaxPerHour int `yaml:"max_per_hour"`
	// Channels are seeded into an empty database on first run.
	Channels []ChannelConfig `yaml:"channels,omitempty"`
}

// ChannelConfig declares a notification channel in the config file
type ChannelConfig struct {
	Name    string                 `yaml:"name"`
	Type    string                 `yaml:"type"`
	Enabled *bool                  `yaml:"enabled,omitempty"`
	Config  map[string]interface{} `yaml:"config,omitempty"`
}

// AuthConfig contains API basic auth settings
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EventLog is an event as recorded by the event sink.
type EventLog struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	Component  ComponentName          `json:"component"`
	Key        string                 `json:"key"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Extras     map[string]interface{} `json:"extras,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Read       bool                   `json:"read"`
}
