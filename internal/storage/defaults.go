package storage

import (
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
)

// InitializeDefaultChannels creates the in-app channel when no channel exists yet
func (db *DB) InitializeDefaultChannels() error {
	channels, err := db.GetNotificationChannels()
	if err != nil {
		return err
	}
	if len(channels) > 0 {
		return nil
	}

	inApp := &models.NotificationChannel{
		Name:    "In-App Notifications",
		Type:    models.ChannelTypeInApp,
		Config:  map[string]interface{}{},
		Enabled: true,
	}
	if err := db.SaveNotificationChannel(inApp); err != nil {
		return err
	}

	logging.For("storage").Infof("Created default in-app notification channel (ID: %d)", inApp.ID)
	return nil
}
