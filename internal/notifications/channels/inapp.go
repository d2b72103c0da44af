package channels

import (
	"context"

	"github.com/appliance-health/healthd/internal/models"
)

// EventStore persists events shown in the UI.
type EventStore interface {
	SaveEvent(e models.EventLog) error
}

// InAppChannel implements in-app notifications (the events table)
type InAppChannel struct {
	name  string
	store EventStore
}

// NewInAppChannel creates a new in-app channel
func NewInAppChannel(ch *models.NotificationChannel, store EventStore) (*InAppChannel, error) {
	return &InAppChannel{
		name:  ch.Name,
		store: store,
	}, nil
}

// Send is a no-op: every event is already saved by the dispatcher.
func (iac *InAppChannel) Send(ctx context.Context, message string, event models.EventLog) error {
	return nil
}

// Test saves a test event
func (iac *InAppChannel) Test(ctx context.Context) error {
	return iac.store.SaveEvent(testEvent())
}

// Type returns the channel type
func (iac *InAppChannel) Type() string {
	return models.ChannelTypeInApp
}

// Name returns the channel name
func (iac *InAppChannel) Name() string {
	return iac.name
}
