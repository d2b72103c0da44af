package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/version"
)

// Channel represents a notification delivery channel
type Channel interface {
	// Send delivers a rendered event
	Send(ctx context.Context, message string, event models.EventLog) error

	// Test sends a test notification
	Test(ctx context.Context) error

	// Type returns the channel type
	Type() string

	// Name returns the channel name
	Name() string
}

const (
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
)

// testEvent is what Test sends through a channel.
func testEvent() models.EventLog {
	return models.EventLog{
		ID:        uuid.NewString(),
		Kind:      "TestEvent",
		Component: "healthd",
		Key:       "test",
		Message:   "Test notification from healthd",
		CreatedAt: time.Now().UTC(),
	}
}

// decodeConfig converts the stored config map into a typed config.
func decodeConfig(ch *models.NotificationChannel, dest interface{}) error {
	configJSON, err := json.Marshal(ch.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := json.Unmarshal(configJSON, dest); err != nil {
		return fmt.Errorf("failed to parse %s config: %w", ch.Type, err)
	}
	return nil
}

// poster sends JSON bodies with a bounded number of attempts.
type poster struct {
	client     *http.Client
	retryDelay time.Duration
}

func newPoster() poster {
	return poster{
		client:     &http.Client{Timeout: requestTimeout},
		retryDelay: time.Second,
	}
}

// postJSON posts payload to url, retrying transport errors and non-2xx
// responses with a linear backoff.
func (p poster) postJSON(ctx context.Context, url string, payload interface{}, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("attempt %d: %w", attempt, ctx.Err())
			case <-time.After(time.Duration(attempt-1) * p.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d failed: %w", attempt, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("attempt %d: HTTP %d", attempt, resp.StatusCode)
	}

	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
