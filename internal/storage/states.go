package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appliance-health/healthd/internal/models"
)

const latestStateName = "latest"

// SaveSystemState replaces the persisted system state.
func (db *DB) SaveSystemState(state *models.SystemState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal system state: %w", err)
	}

	_, err = db.exec(`
		INSERT INTO system_state (name, collected_at, state, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			collected_at = excluded.collected_at,
			state = excluded.state,
			saved_at = excluded.saved_at
	`, latestStateName, state.CollectedAt, string(data), time.Now().UTC())
	return err
}

// LoadLatestSystemState returns the persisted system state, or ErrNotFound.
func (db *DB) LoadLatestSystemState() (*models.SystemState, error) {
	var data string
	err := db.queryRow(`SELECT state FROM system_state WHERE name = ?`, latestStateName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state models.SystemState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal system state: %w", err)
	}
	return &state, nil
}

// SaveComponentStates replaces the stored component states with records in
// one transaction: rows absent from records are deleted, the rest upserted.
func (db *DB) SaveComponentStates(records []models.ComponentStateRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := db.deleteStaleComponentStates(tx, records); err != nil {
		return err
	}

	stmt, err := tx.Prepare(db.rebind(`
		INSERT INTO component_states (component, component_key, state, is_missing, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (component, component_key) DO UPDATE SET
			state = excluded.state,
			is_missing = excluded.is_missing,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(string(r.Component), r.Key, r.State.String(), r.Missing, r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save state of %s/%s: %w", r.Component, r.Key, err)
		}
	}

	return tx.Commit()
}

type componentKey struct {
	component string
	key       string
}

func (db *DB) deleteStaleComponentStates(tx *sql.Tx, records []models.ComponentStateRecord) error {
	current := make(map[componentKey]bool, len(records))
	for _, r := range records {
		current[componentKey{string(r.Component), r.Key}] = true
	}

	rows, err := tx.Query("SELECT component, component_key FROM component_states")
	if err != nil {
		return err
	}
	var stale []componentKey
	for rows.Next() {
		var k componentKey
		if err := rows.Scan(&k.component, &k.key); err != nil {
			rows.Close()
			return err
		}
		if !current[k] {
			stale = append(stale, k)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, k := range stale {
		if _, err := tx.Exec(db.rebind("DELETE FROM component_states WHERE component = ? AND component_key = ?"), k.component, k.key); err != nil {
			return fmt.Errorf("failed to delete state of %s/%s: %w", k.component, k.key, err)
		}
	}
	return nil
}

// GetComponentStates returns the stored component states, optionally
// restricted to one component name.
func (db *DB) GetComponentStates(component models.ComponentName) ([]models.ComponentStateRecord, error) {
	query := `
		SELECT component, component_key, state, is_missing, updated_at
		FROM component_states
	`
	var args []interface{}
	if component != "" {
		query += " WHERE component = ?"
		args = append(args, string(component))
	}
	query += " ORDER BY component, component_key"

	rows, err := db.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ComponentStateRecord
	for rows.Next() {
		var r models.ComponentStateRecord
		var component, state string
		if err := rows.Scan(&component, &r.Key, &state, &r.Missing, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Component = models.ComponentName(component)
		if r.State, err = models.ParseComponentState(state); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
