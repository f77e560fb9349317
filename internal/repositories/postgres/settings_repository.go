package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
)

// PostgresSettingsStore implements SettingsStore using PostgreSQL
type PostgresSettingsStore struct {
	db *sql.DB
}

// NewPostgresSettingsStore creates a new PostgreSQL settings store
func NewPostgresSettingsStore(db *sql.DB) repositories.SettingsStore {
	return &PostgresSettingsStore{db: db}
}

// Read returns the stored permission map, or (nil, nil) when the key has
// never been written
func (r *PostgresSettingsStore) Read(
	ctx context.Context,
	levelType entities.LevelType,
	levelID string,
	objectType entities.ResourceType,
	objectID string,
) (map[string]interface{}, error) {
	query := `
		SELECT settings
		FROM settings
		WHERE level_type = $1 AND level_id = $2 AND object_type = $3 AND object_id = $4
	`
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, string(levelType), levelID, string(objectType), objectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	settings := make(map[string]interface{})
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// Write replaces the stored permission map for the key
func (r *PostgresSettingsStore) Write(
	ctx context.Context,
	levelType entities.LevelType,
	levelID string,
	objectType entities.ResourceType,
	objectID string,
	settings map[string]interface{},
) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		INSERT INTO settings (level_type, level_id, object_type, object_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (level_type, level_id, object_type, object_id)
		DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query, string(levelType), levelID, string(objectType), objectID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Delete removes the stored permission map for the key
func (r *PostgresSettingsStore) Delete(
	ctx context.Context,
	levelType entities.LevelType,
	levelID string,
	objectType entities.ResourceType,
	objectID string,
) error {
	query := `
		DELETE FROM settings
		WHERE level_type = $1 AND level_id = $2 AND object_type = $3 AND object_id = $4
	`
	_, err := r.db.ExecContext(ctx, query, string(levelType), levelID, string(objectType), objectID)
	if err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}
