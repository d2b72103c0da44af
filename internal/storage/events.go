package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appliance-health/healthd/internal/models"
)

// SaveEvent appends an event to the event log.
func (db *DB) SaveEvent(e models.EventLog) error {
	attributes, err := marshalMap(e.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	extras, err := marshalMap(e.Extras)
	if err != nil {
		return fmt.Errorf("failed to marshal extras: %w", err)
	}

	_, err = db.exec(`
		INSERT INTO events (id, kind, component, component_key, message, attributes, extras, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Kind, string(e.Component), e.Key, e.Message, attributes, extras, e.CreatedAt, e.Read)
	return err
}

// GetEvents returns the most recent events, newest first.
func (db *DB) GetEvents(limit int, unreadOnly bool) ([]models.EventLog, error) {
	query := `
		SELECT id, kind, component, component_key, message, attributes, extras, created_at, is_read
		FROM events
	`
	if unreadOnly {
		query += " WHERE is_read = FALSE"
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := db.query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.EventLog
	for rows.Next() {
		var e models.EventLog
		var component string
		var attributes, extras sql.NullString

		err := rows.Scan(&e.ID, &e.Kind, &component, &e.Key, &e.Message, &attributes, &extras, &e.CreatedAt, &e.Read)
		if err != nil {
			return nil, err
		}
		e.Component = models.ComponentName(component)
		if e.Attributes, err = unmarshalMap(attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
		if e.Extras, err = unmarshalMap(extras); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extras: %w", err)
		}

		logs = append(logs, e)
	}

	return logs, rows.Err()
}

// MarkEventRead marks an event as read
func (db *DB) MarkEventRead(id string) error {
	result, err := db.exec("UPDATE events SET is_read = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUnreadEventCount returns the count of unread events
func (db *DB) GetUnreadEventCount() (int, error) {
	var count int
	err := db.queryRow("SELECT COUNT(*) FROM events WHERE is_read = FALSE").Scan(&count)
	return count, err
}

// DeleteEventsBefore removes events created before t and returns how many were removed.
func (db *DB) DeleteEventsBefore(t time.Time) (int64, error) {
	result, err := db.exec("DELETE FROM events WHERE created_at < ?", t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func marshalMap(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
