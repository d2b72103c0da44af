package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/storage"
)

// setupTestDispatcher creates a dispatcher backed by a temporary database
// holding the default in-app channel.
func setupTestDispatcher(t *testing.T, maxPerHour int) (*Dispatcher, *storage.DB) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "notifier-test-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp db: %v", err)
	}
	tmpfile.Close()

	t.Cleanup(func() {
		os.Remove(tmpfile.Name())
	})

	db, err := storage.New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitializeDefaultChannels(); err != nil {
		t.Fatalf("Failed to initialize defaults: %v", err)
	}

	d := NewDispatcher(db, maxPerHour, prometheus.NewRegistry())
	t.Cleanup(func() { d.Close(context.Background()) })
	return d, db
}

func webhookServer(t *testing.T) (*httptest.Server, chan map[string]interface{}) {
	t.Helper()
	payloads := make(chan map[string]interface{}, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		payloads <- payload
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, payloads
}

func bondDown() events.Event {
	return events.BondDownEvent.New(&models.Bond{Base: models.Base{Name: "bond0"}})
}

// TestRegister_SavesEvent tests every registered event lands in the event log
func TestRegister_SavesEvent(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)

	e := bondDown()
	if err := d.Register(e); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()

	logs, err := db.GetEvents(10, false)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(logs))
	}
	if logs[0].ID != e.ID.String() {
		t.Errorf("Expected event ID %s, got %s", e.ID, logs[0].ID)
	}
	if logs[0].Message != "Bond bond0 is down" {
		t.Errorf("Unexpected message %q", logs[0].Message)
	}

	deliveries, err := db.GetDeliveryLogs(10)
	if err != nil {
		t.Fatalf("GetDeliveryLogs failed: %v", err)
	}
	if len(deliveries) != 1 || !deliveries[0].Success {
		t.Errorf("Expected one successful in-app delivery, got %+v", deliveries)
	}
}

// TestRegister_WebhookDelivery tests delivery to an outbound channel
func TestRegister_WebhookDelivery(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)
	server, payloads := webhookServer(t)

	hook := &models.NotificationChannel{
		Name:    "hook",
		Type:    models.ChannelTypeWebhook,
		Config:  map[string]interface{}{"url": server.URL},
		Enabled: true,
	}
	if err := db.SaveNotificationChannel(hook); err != nil {
		t.Fatalf("SaveNotificationChannel failed: %v", err)
	}

	if err := d.Register(bondDown()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()

	select {
	case payload := <-payloads:
		if payload["kind"] != string(events.BondDownEvent) {
			t.Errorf("Unexpected kind %v", payload["kind"])
		}
		if payload["message"] != "Bond bond0 is down" {
			t.Errorf("Unexpected message %v", payload["message"])
		}
	default:
		t.Fatal("Webhook was not called")
	}

	if got := testutil.ToFloat64(d.metrics.sentTotal.WithLabelValues(models.ChannelTypeWebhook, "success")); got != 1 {
		t.Errorf("Expected 1 successful webhook send, got %v", got)
	}
}

// TestRegister_DisabledAndInvalidChannels tests channels that must not receive events
func TestRegister_DisabledAndInvalidChannels(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)
	server, payloads := webhookServer(t)

	for _, ch := range []*models.NotificationChannel{
		{Name: "disabled", Type: models.ChannelTypeWebhook, Config: map[string]interface{}{"url": server.URL}, Enabled: false},
		{Name: "broken", Type: models.ChannelTypeNtfy, Config: map[string]interface{}{}, Enabled: true},
		{Name: "unknown", Type: "carrier-pigeon", Config: map[string]interface{}{}, Enabled: true},
	} {
		if err := db.SaveNotificationChannel(ch); err != nil {
			t.Fatalf("SaveNotificationChannel failed: %v", err)
		}
	}

	if err := d.Register(bondDown()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()

	if len(payloads) != 0 {
		t.Error("Disabled webhook should not be called")
	}
	deliveries, _ := db.GetDeliveryLogs(10)
	if len(deliveries) != 1 {
		t.Errorf("Expected only the in-app delivery, got %d", len(deliveries))
	}
}

// TestRegister_RateLimit tests deliveries beyond the hourly cap are dropped
func TestRegister_RateLimit(t *testing.T) {
	d, db := setupTestDispatcher(t, 1)

	for i := 0; i < 3; i++ {
		if err := d.Register(bondDown()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	d.Wait()

	logs, _ := db.GetEvents(10, false)
	if len(logs) != 3 {
		t.Errorf("Expected every event to be saved regardless of rate limit, got %d", len(logs))
	}
	deliveries, _ := db.GetDeliveryLogs(10)
	if len(deliveries) != 1 {
		t.Errorf("Expected 1 delivery within the limit, got %d", len(deliveries))
	}
	if got := testutil.ToFloat64(d.metrics.rateLimitedTotal.WithLabelValues(models.ChannelTypeInApp)); got != 2 {
		t.Errorf("Expected 2 rate limited notifications, got %v", got)
	}
}

// TestRegister_StoreFailure tests that a failure to save the event is returned
func TestRegister_StoreFailure(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)
	db.Close()

	if err := d.Register(bondDown()); err == nil {
		t.Error("Expected error when the event cannot be saved")
	}
}

// TestRefreshChannels tests the channel cache is reloaded after changes
func TestRefreshChannels(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)
	server, payloads := webhookServer(t)

	if err := d.Register(bondDown()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()

	hook := &models.NotificationChannel{Name: "hook", Type: models.ChannelTypeWebhook, Config: map[string]interface{}{"url": server.URL}, Enabled: true}
	if err := db.SaveNotificationChannel(hook); err != nil {
		t.Fatalf("SaveNotificationChannel failed: %v", err)
	}

	if err := d.Register(bondDown()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()
	if len(payloads) != 0 {
		t.Fatal("Cached channels should not include the new webhook yet")
	}

	d.RefreshChannels()
	if err := d.Register(bondDown()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d.Wait()
	if len(payloads) != 1 {
		t.Errorf("Expected webhook after refresh, got %d calls", len(payloads))
	}
}

// TestSendTestNotification tests sending a test through a stored channel
func TestSendTestNotification(t *testing.T) {
	d, db := setupTestDispatcher(t, 100)

	channels, err := db.GetNotificationChannels()
	if err != nil || len(channels) != 1 {
		t.Fatalf("Expected default channel, got %v (%v)", channels, err)
	}

	if err := d.SendTestNotification(context.Background(), channels[0].ID); err != nil {
		t.Fatalf("SendTestNotification failed: %v", err)
	}

	logs, _ := db.GetEvents(10, false)
	if len(logs) != 1 || logs[0].Kind != "TestEvent" {
		t.Errorf("Expected a saved test event, got %+v", logs)
	}

	if err := d.SendTestNotification(context.Background(), 9999); err == nil {
		t.Error("Expected error for unknown channel")
	}
}

func TestValidateChannel(t *testing.T) {
	d, _ := setupTestDispatcher(t, 100)

	if err := d.ValidateChannel(&models.NotificationChannel{Type: models.ChannelTypeWebhook, Config: map[string]interface{}{"url": "http://x"}}); err != nil {
		t.Errorf("Expected valid webhook, got %v", err)
	}
	if err := d.ValidateChannel(&models.NotificationChannel{Type: models.ChannelTypeWebhook, Config: map[string]interface{}{}}); err == nil {
		t.Error("Expected error for webhook without URL")
	}
	if err := d.ValidateChannel(&models.NotificationChannel{Type: "sms"}); err == nil {
		t.Error("Expected error for unknown type")
	}
}

// TestBuildMessage tests message rendering per event kind
func TestBuildMessage(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := &models.FCPort{Base: models.Base{Name: "fc1"}, LinkState: "up", ConnectionSpeed: "32Gb", Role: "backend"}
	eth := &models.EthernetPort{Base: models.Base{Name: "eth0"}, LinkState: "down"}
	snap := &models.Snapshot{Base: models.Base{Name: "daily-1"}, PolicyType: models.PolicyDaily, CreatedAt: &t0}
	snaps := models.NewSnapshotContainer(t0, snap)
	daily := models.Policy{Type: models.PolicyDaily, Enabled: true, Frequency: 24}

	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{"not found", events.ComponentNotFoundEvent.New(&models.Bond{Base: models.Base{Name: "bond1"}}), "Bond bond1 not found"},
		{"bond up", events.BondUpEvent.New(&models.Bond{Base: models.Base{Name: "bond0"}}), "Bond bond0 is up"},
		{"ethernet down", events.EthernetPortDownEvent.New(eth), "Ethernet port eth0 is down"},
		{"fc speed", events.FCPortSpeedChangeEvent.New(fc, events.With(events.ExtraPreviousSpeed, "16Gb")), "FC port fc1 speed changed from 16Gb to 32Gb"},
		{"snapshots ok", events.SnapshotsOKEvent.New(snaps), "Snapshots are healthy"},
		{"not deleted", events.SnapshotNotDeletedEvent.New(snap), "Snapshot daily-1 was not deleted after expiring"},
		{"overdue", events.SnapshotOverdueEvent.New(snaps,
			events.With(events.ExtraCurrentPolicy, daily),
			events.With(events.ExtraDelayMinutes, 90)), "daily snapshots are overdue by 90 minutes"},
		{"wrong frequency", events.SnapshotWrongFrequencyEvent.New(snaps,
			events.With(events.ExtraCurrentPolicy, daily),
			events.With(events.ExtraTimeDifferenceMinutes, 60)), "daily snapshots taken 60 minutes apart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildMessage(tt.event); got != tt.want {
				t.Errorf("BuildMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
