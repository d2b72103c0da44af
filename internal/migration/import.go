package migration

import (
	"fmt"

	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
)

// ChannelStore is the part of storage channel migration needs.
type ChannelStore interface {
	GetNotificationChannels() ([]models.NotificationChannel, error)
	SaveNotificationChannel(ch *models.NotificationChannel) error
}

// Validator rejects channels that could not be instantiated.
type Validator func(ch *models.NotificationChannel) error

// ImportChannels seeds channels declared in the config file (one-time migration).
// Nothing is imported once the database holds any channel, so edits made
// through the API are never overwritten on restart.
func ImportChannels(store ChannelStore, declared []models.ChannelConfig, validate Validator) (int, error) {
	if len(declared) == 0 {
		return 0, nil
	}

	logger := logging.For("migration")

	existing, err := store.GetNotificationChannels()
	if err != nil {
		return 0, fmt.Errorf("failed to check existing channels: %w", err)
	}
	if len(existing) > 0 {
		logger.Infof("Channels already exist in database (%d channels), skipping channel import", len(existing))
		return 0, nil
	}

	imported := 0
	for _, cfg := range declared {
		ch := toChannel(cfg)
		if validate != nil {
			if err := validate(ch); err != nil {
				logger.Warnf("Skipping channel %s: %v", cfg.Name, err)
				continue
			}
		}

		if err := store.SaveNotificationChannel(ch); err != nil {
			logger.Warnf("Failed to import channel %s: %v", cfg.Name, err)
			continue
		}
		imported++
	}

	logger.Infof("Imported %d channel(s) from config", imported)
	return imported, nil
}

func toChannel(cfg models.ChannelConfig) *models.NotificationChannel {
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	config := cfg.Config
	if config == nil {
		config = map[string]interface{}{}
	}
	return &models.NotificationChannel{
		Name:    cfg.Name,
		Type:    cfg.Type,
		Config:  config,
		Enabled: enabled,
	}
}
