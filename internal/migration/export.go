package migration

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appliance-health/healthd/internal/models"
)

type exportDoc struct {
	Notifications struct {
		Channels []models.ChannelConfig `yaml:"channels"`
	} `yaml:"notifications"`
}

// ExportChannels renders the stored channels as a config file fragment
// that ImportChannels accepts on a fresh install.
func ExportChannels(store ChannelStore) ([]byte, error) {
	stored, err := store.GetNotificationChannels()
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}

	var doc exportDoc
	for _, ch := range stored {
		enabled := ch.Enabled
		doc.Notifications.Channels = append(doc.Notifications.Channels, models.ChannelConfig{
			Name:    ch.Name,
			Type:    ch.Type,
			Enabled: &enabled,
			Config:  ch.Config,
		})
	}

	yamlData, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := `# healthd notification channels
# Generated: ` + time.Now().Format(time.RFC3339) + `
#
# Merge into config.yaml; channels are imported only into an empty database.
# Secrets (webhook headers, ntfy tokens) are exported as stored.

`
	return []byte(header + string(yamlData)), nil
}
