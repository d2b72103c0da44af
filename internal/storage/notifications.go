package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appliance-health/healthd/internal/models"
)

// GetNotificationChannels retrieves all notification channels
func (db *DB) GetNotificationChannels() ([]models.NotificationChannel, error) {
	rows, err := db.query(`
		SELECT id, name, type, config, enabled, created_at, updated_at
		FROM notification_channels
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.NotificationChannel
	for rows.Next() {
		var ch models.NotificationChannel
		var configJSON string

		err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &configJSON, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(configJSON), &ch.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel config: %w", err)
		}

		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

// GetNotificationChannel retrieves a single notification channel
func (db *DB) GetNotificationChannel(id int64) (*models.NotificationChannel, error) {
	var ch models.NotificationChannel
	var configJSON string

	err := db.queryRow(`
		SELECT id, name, type, config, enabled, created_at, updated_at
		FROM notification_channels
		WHERE id = ?
	`, id).Scan(&ch.ID, &ch.Name, &ch.Type, &configJSON, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &ch.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel config: %w", err)
	}

	return &ch, nil
}

// SaveNotificationChannel inserts a channel when its ID is zero and updates it otherwise
func (db *DB) SaveNotificationChannel(ch *models.NotificationChannel) error {
	configJSON, err := json.Marshal(ch.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	now := time.Now().UTC()
	if ch.ID == 0 {
		err := db.queryRow(`
			INSERT INTO notification_channels (name, type, config, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`, ch.Name, ch.Type, string(configJSON), ch.Enabled, now, now).Scan(&ch.ID)
		if err != nil {
			return err
		}
		ch.CreatedAt = now
		ch.UpdatedAt = now
		return nil
	}

	result, err := db.exec(`
		UPDATE notification_channels
		SET name = ?, type = ?, config = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, ch.Name, ch.Type, string(configJSON), ch.Enabled, now, ch.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	ch.UpdatedAt = now
	return nil
}

// DeleteNotificationChannel deletes a notification channel
func (db *DB) DeleteNotificationChannel(id int64) error {
	result, err := db.exec("DELETE FROM notification_channels WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDeliveryLog records a delivery attempt
func (db *DB) SaveDeliveryLog(entry models.DeliveryLog) error {
	var errMsg sql.NullString
	if entry.Error != "" {
		errMsg = sql.NullString{String: entry.Error, Valid: true}
	}

	_, err := db.exec(`
		INSERT INTO delivery_log (event_id, channel_id, sent_at, success, error)
		VALUES (?, ?, ?, ?, ?)
	`, entry.EventID, entry.ChannelID, entry.SentAt, entry.Success, errMsg)
	return err
}

// GetDeliveryLogs retrieves the most recent delivery attempts
func (db *DB) GetDeliveryLogs(limit int) ([]models.DeliveryLog, error) {
	rows, err := db.query(`
		SELECT id, event_id, channel_id, sent_at, success, error
		FROM delivery_log
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.DeliveryLog
	for rows.Next() {
		var entry models.DeliveryLog
		var errMsg sql.NullString
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.ChannelID, &entry.SentAt, &entry.Success, &errMsg); err != nil {
			return nil, err
		}
		entry.Error = errMsg.String
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// CountDeliveriesSince returns the number of successful deliveries after t.
func (db *DB) CountDeliveriesSince(t time.Time) (int, error) {
	var count int
	err := db.queryRow("SELECT COUNT(*) FROM delivery_log WHERE success = TRUE AND sent_at >= ?", t).Scan(&count)
	return count, err
}
