package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/notifications/channels"
)

const sendTimeout = 30 * time.Second

// Store is the persistence the dispatcher needs.
type Store interface {
	SaveEvent(e models.EventLog) error
	GetNotificationChannels() ([]models.NotificationChannel, error)
	GetNotificationChannel(id int64) (*models.NotificationChannel, error)
	SaveDeliveryLog(entry models.DeliveryLog) error
}

// Dispatcher is the event sink of the rule engine. Every event is saved to
// the event log; delivery to outbound channels is asynchronous and rate limited.
type Dispatcher struct {
	store       Store
	rateLimiter *RateLimiter
	logger      *zap.SugaredLogger
	metrics     *Metrics

	channelsMu sync.RWMutex
	channels   map[int64]channels.Channel
	loaded     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. reg may be nil.
func NewDispatcher(store Store, maxNotificationsPerHour int, reg prometheus.Registerer) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:       store,
		rateLimiter: NewRateLimiter(maxNotificationsPerHour),
		logger:      logging.For("notifications"),
		metrics:     NewMetrics(reg),
		channels:    make(map[int64]channels.Channel),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register records the event and fans it out to the enabled channels.
// Only a failure to record the event is returned; delivery errors are logged.
func (d *Dispatcher) Register(e events.Event) error {
	entry := ToLog(e)
	if err := d.store.SaveEvent(entry); err != nil {
		return fmt.Errorf("failed to save event %s: %w", e.Kind, err)
	}

	targets, err := d.enabledChannels()
	if err != nil {
		d.logger.Warnf("Failed to load notification channels: %v", err)
		return nil
	}

	for id, ch := range targets {
		if !d.rateLimiter.Allow() {
			d.metrics.rateLimited(ch.Type())
			d.logger.Warnf("Rate limited: dropping %s notification for channel %s", e.Kind, ch.Name())
			continue
		}

		d.wg.Add(1)
		go d.send(id, ch, entry)
	}
	return nil
}

func (d *Dispatcher) send(channelID int64, ch channels.Channel, entry models.EventLog) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.ctx, sendTimeout)
	defer cancel()

	delivery := models.DeliveryLog{
		EventID:   entry.ID,
		ChannelID: channelID,
		Success:   true,
	}
	if err := ch.Send(ctx, entry.Message, entry); err != nil {
		d.logger.Warnf("Error sending %s via channel %s: %v", entry.Kind, ch.Name(), err)
		delivery.Success = false
		delivery.Error = err.Error()
	}
	delivery.SentAt = time.Now().UTC()
	d.metrics.sent(ch.Type(), delivery.Success)

	if err := d.store.SaveDeliveryLog(delivery); err != nil {
		d.logger.Warnf("Failed to save delivery log: %v", err)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight deliveries up to ctx's deadline, then cancels the rest.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// enabledChannels returns the cached channel instances, loading them on first use.
func (d *Dispatcher) enabledChannels() (map[int64]channels.Channel, error) {
	d.channelsMu.RLock()
	if d.loaded {
		defer d.channelsMu.RUnlock()
		return d.channels, nil
	}
	d.channelsMu.RUnlock()

	d.channelsMu.Lock()
	defer d.channelsMu.Unlock()
	if d.loaded {
		return d.channels, nil
	}

	configured, err := d.store.GetNotificationChannels()
	if err != nil {
		return nil, err
	}

	instances := make(map[int64]channels.Channel)
	for i := range configured {
		cfg := &configured[i]
		if !cfg.Enabled {
			continue
		}
		ch, err := d.createChannelInstance(cfg)
		if err != nil {
			d.logger.Warnf("Skipping channel %s: %v", cfg.Name, err)
			continue
		}
		instances[cfg.ID] = ch
	}

	d.channels = instances
	d.loaded = true
	return d.channels, nil
}

// createChannelInstance creates a channel instance from database config
func (d *Dispatcher) createChannelInstance(ch *models.NotificationChannel) (channels.Channel, error) {
	switch ch.Type {
	case models.ChannelTypeWebhook:
		return channels.NewWebhookChannel(ch)
	case models.ChannelTypeNtfy:
		return channels.NewNtfyChannel(ch)
	case models.ChannelTypeInApp:
		return channels.NewInAppChannel(ch, d.store)
	default:
		return nil, fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

// ValidateChannel checks that a channel config can be instantiated.
func (d *Dispatcher) ValidateChannel(ch *models.NotificationChannel) error {
	_, err := d.createChannelInstance(ch)
	return err
}

// RefreshChannels drops the channel cache (called after config changes)
func (d *Dispatcher) RefreshChannels() {
	d.channelsMu.Lock()
	defer d.channelsMu.Unlock()

	d.channels = make(map[int64]channels.Channel)
	d.loaded = false
}

// SendTestNotification sends a test notification to a specific channel
func (d *Dispatcher) SendTestNotification(ctx context.Context, channelID int64) error {
	channel, err := d.store.GetNotificationChannel(channelID)
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	ch, err := d.createChannelInstance(channel)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Test(ctx); err != nil {
		return fmt.Errorf("failed to send test notification: %w", err)
	}

	d.logger.Infof("Test notification sent successfully to channel: %s (%s)", channel.Name, channel.Type)
	return nil
}

// RateLimiter returns the rate limiter instance
func (d *Dispatcher) RateLimiter() *RateLimiter {
	return d.rateLimiter
}

// ToLog converts an event into its stored form.
func ToLog(e events.Event) models.EventLog {
	return models.EventLog{
		ID:         e.ID.String(),
		Kind:       e.Kind,
		Component:  e.Component,
		Key:        e.Key,
		Message:    BuildMessage(e),
		Attributes: e.Attributes,
		Extras:     e.Extras,
		CreatedAt:  e.CreatedAt,
	}
}

// BuildMessage creates a human-readable message from an event
func BuildMessage(e events.Event) string {
	kind := e.Kind
	switch {
	case kind == string(events.ComponentNotFoundEvent):
		return fmt.Sprintf("%s %s not found", componentLabel(e.Component), e.Key)
	case kind == string(events.SnapshotsOKEvent):
		return "Snapshots are healthy"
	case kind == string(events.SnapshotBadExpirationEvent):
		return fmt.Sprintf("Snapshot %s expiration does not match its policy retention", e.Key)
	case kind == string(events.SnapshotBadCreationEvent):
		return fmt.Sprintf("Snapshot %s has no valid creation time", e.Key)
	case kind == string(events.SnapshotNotDeletedEvent):
		return fmt.Sprintf("Snapshot %s was not deleted after expiring", e.Key)
	case kind == string(events.SnapshotOverdueEvent):
		return fmt.Sprintf("%s snapshots are overdue by %v minutes", policyName(e), extra(e, events.ExtraDelayMinutes))
	case kind == string(events.SnapshotWrongFrequencyEvent):
		return fmt.Sprintf("%s snapshots taken %v minutes apart", policyName(e), extra(e, events.ExtraTimeDifferenceMinutes))
	case kind == string(events.SnapshotBadLockExpirationEvent):
		return fmt.Sprintf("Snapshot %s lock does not cover its retention", e.Key)
	case kind == string(events.SnapshotUnexpectedLockEvent):
		return fmt.Sprintf("Snapshot %s is locked but its policy is not immutable", e.Key)
	case strings.HasSuffix(kind, "SpeedChangeEvent"):
		return fmt.Sprintf("%s %s speed changed from %v to %v",
			componentLabel(e.Component), e.Key, extra(e, events.ExtraPreviousSpeed), currentSpeed(e))
	case strings.HasSuffix(kind, "DownEvent"):
		return fmt.Sprintf("%s %s is down", componentLabel(e.Component), e.Key)
	case strings.HasSuffix(kind, "UpEvent"):
		return fmt.Sprintf("%s %s is up", componentLabel(e.Component), e.Key)
	default:
		return fmt.Sprintf("Event: %s for %s %s", kind, e.Component, e.Key)
	}
}

func componentLabel(name models.ComponentName) string {
	switch name {
	case models.ComponentBonds:
		return "Bond"
	case models.ComponentFCPorts:
		return "FC port"
	case models.ComponentEthernetPorts:
		return "Ethernet port"
	case models.ComponentSnapshots:
		return "Snapshots"
	default:
		return string(name)
	}
}

func policyName(e events.Event) string {
	if p, ok := extra(e, events.ExtraCurrentPolicy).(models.Policy); ok {
		return string(p.Type)
	}
	return "Policy"
}

func currentSpeed(e events.Event) interface{} {
	if v, ok := e.Attributes["connection_speed"]; ok {
		return v
	}
	return e.Attributes["maximum_speed"]
}

func extra(e events.Event, key string) interface{} {
	v, _ := e.Extra(key)
	return v
}
