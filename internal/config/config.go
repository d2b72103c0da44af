package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "./config/config.yaml"

// Default returns the configuration used when no file is present
func Default() *models.Config {
	cfg := &models.Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults.
func Load(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg models.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads config from file or falls back to the defaults.
// The load error is returned alongside the fallback so the caller can log it.
func LoadOrDefault(path string) (*models.Config, error) {
	cfg, err := Load(path)
	if err != nil {
		fallback := &models.Config{}
		applyEnv(fallback)
		applyDefaults(fallback)
		return fallback, err
	}
	return cfg, nil
}

// Validate checks values defaults cannot repair.
func Validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "sqlite3":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Logging.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("unsupported logging format %q", cfg.Logging.Format)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	if cfg.Auth.Enabled && (cfg.Auth.Username == "" || cfg.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password are required when auth is enabled")
	}
	return nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/healthd.db"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logging.FormatJSON
	}

	if cfg.Notifications.MaxPerHour == 0 {
		cfg.Notifications.MaxPerHour = 100
	}
}

// applyEnv lets container deployments override the file.
func applyEnv(cfg *models.Config) {
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
	}
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.StateFile = getEnv("STATE_FILE", cfg.StateFile)

	if v := getEnv("AUTH_ENABLED", ""); v != "" {
		cfg.Auth.Enabled = v == "true"
	}
	cfg.Auth.Username = getEnv("AUTH_USERNAME", cfg.Auth.Username)
	cfg.Auth.Password = getEnv("AUTH_PASSWORD", cfg.Auth.Password)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
