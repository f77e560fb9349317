package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
)

// PostgresSubjectDirectory implements SubjectDirectory using PostgreSQL
type PostgresSubjectDirectory struct {
	db *sql.DB
}

// NewPostgresSubjectDirectory creates a new PostgreSQL subject directory
func NewPostgresSubjectDirectory(db *sql.DB) repositories.SubjectDirectory {
	return &PostgresSubjectDirectory{db: db}
}

// GetRole returns the role record for a slug, or (nil, nil) when the role
// does not exist
func (r *PostgresSubjectDirectory) GetRole(ctx context.Context, slug string) (*entities.RoleLevel, error) {
	query := `SELECT name, capabilities FROM roles WHERE slug = $1`

	var name string
	var rawCaps []byte
	err := r.db.QueryRowContext(ctx, query, slug).Scan(&name, &rawCaps)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %s: %w", slug, err)
	}

	caps := make(map[string]bool)
	if err := json.Unmarshal(rawCaps, &caps); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities of role %s: %w", slug, err)
	}

	return &entities.RoleLevel{
		Slug:         slug,
		Name:         name,
		Capabilities: caps,
	}, nil
}

// GetUser returns the user record for an ID, or (nil, nil) when the user
// does not exist
func (r *PostgresSubjectDirectory) GetUser(ctx context.Context, id int64) (*entities.UserLevel, error) {
	query := `
		SELECT login, email, display_name, roles, capabilities, attributes
		FROM users
		WHERE id = $1
	`
	var login, email, displayName string
	var rawRoles, rawCaps, rawAttrs []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&login, &email, &displayName, &rawRoles, &rawCaps, &rawAttrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	var roles []string
	if err := json.Unmarshal(rawRoles, &roles); err != nil {
		return nil, fmt.Errorf("failed to decode roles of user %d: %w", id, err)
	}
	caps := make(map[string]bool)
	if err := json.Unmarshal(rawCaps, &caps); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities of user %d: %w", id, err)
	}
	attrs := make(map[string]interface{})
	if err := json.Unmarshal(rawAttrs, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of user %d: %w", id, err)
	}

	return &entities.UserLevel{
		UserID:       id,
		Login:        login,
		Email:        email,
		DisplayName:  displayName,
		Roles:        roles,
		Capabilities: caps,
		Attributes:   attrs,
	}, nil
}

// GetUserOption returns a stored per-user option value, or (nil, nil) when
// unset
func (r *PostgresSubjectDirectory) GetUserOption(ctx context.Context, userID int64, name string) (interface{}, error) {
	return r.getKeyed(ctx, "user_options", userID, name)
}

// GetUserMeta returns a stored per-user meta value, or (nil, nil) when unset
func (r *PostgresSubjectDirectory) GetUserMeta(ctx context.Context, userID int64, name string) (interface{}, error) {
	return r.getKeyed(ctx, "user_meta", userID, name)
}

func (r *PostgresSubjectDirectory) getKeyed(ctx context.Context, table string, userID int64, name string) (interface{}, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE user_id = $1 AND name = $2`, table)

	var raw []byte
	err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s for user %d: %w", table, name, userID, err)
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s for user %d: %w", table, name, userID, err)
	}
	return value, nil
}
