package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
)

// PostgresPolicySource implements PolicySource using PostgreSQL
type PostgresPolicySource struct {
	db *sql.DB
}

// NewPostgresPolicySource creates a new PostgreSQL policy source
func NewPostgresPolicySource(db *sql.DB) *PostgresPolicySource {
	return &PostgresPolicySource{db: db}
}

// SavePolicy stores a policy document body under an ID. The body is
// validated by parsing before it is stored.
func (r *PostgresPolicySource) SavePolicy(ctx context.Context, id string, body []byte) error {
	if _, err := entities.ParsePolicyDocument(id, body); err != nil {
		return err
	}

	query := `
		INSERT INTO policies (id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id)
		DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, id, string(body), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", id, err)
	}
	return nil
}

// DeletePolicy removes a policy document and its attachments
func (r *PostgresPolicySource) DeletePolicy(ctx context.Context, id string) error {
	query := `DELETE FROM policies WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("policy not found: %s", id)
	}
	return nil
}

// GetAttached returns the enforced policy documents for the level in
// attachment order
func (r *PostgresPolicySource) GetAttached(ctx context.Context, level entities.AccessLevel) ([]*entities.Policy, error) {
	query := `
		SELECT p.id, p.document
		FROM policy_attachments a
		JOIN policies p ON p.id = a.policy_id
		WHERE a.level_type = $1 AND a.level_id = $2 AND a.enforce
		ORDER BY a.attach_order
	`
	rows, err := r.db.QueryContext(ctx, query, string(level.LevelType()), level.LevelID())
	if err != nil {
		return nil, fmt.Errorf("failed to query attached policies: %w", err)
	}
	defer rows.Close()

	var policies []*entities.Policy
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("failed to scan policy row: %w", err)
		}
		policy, err := entities.ParsePolicyDocument(id, []byte(document))
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policy rows: %w", err)
	}
	return policies, nil
}

// Attach binds a policy document to an access level. Re-attaching a
// detached policy re-enables enforcement and keeps the original order.
func (r *PostgresPolicySource) Attach(ctx context.Context, level entities.AccessLevel, policyID string) error {
	query := `
		INSERT INTO policy_attachments (level_type, level_id, policy_id, attach_order, enforce)
		VALUES ($1, $2, $3,
			COALESCE((SELECT MAX(attach_order) + 1 FROM policy_attachments
				WHERE level_type = $1 AND level_id = $2), 0),
			TRUE)
		ON CONFLICT (level_type, level_id, policy_id)
		DO UPDATE SET enforce = TRUE
	`
	_, err := r.db.ExecContext(ctx, query, string(level.LevelType()), level.LevelID(), policyID)
	if err != nil {
		return fmt.Errorf("failed to attach policy %s: %w", policyID, err)
	}
	return nil
}

// Detach marks the attachment as no longer enforced
func (r *PostgresPolicySource) Detach(ctx context.Context, level entities.AccessLevel, policyID string) error {
	query := `
		UPDATE policy_attachments
		SET enforce = FALSE
		WHERE level_type = $1 AND level_id = $2 AND policy_id = $3
	`
	result, err := r.db.ExecContext(ctx, query, string(level.LevelType()), level.LevelID(), policyID)
	if err != nil {
		return fmt.Errorf("failed to detach policy %s: %w", policyID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("policy %s is not attached to %s", policyID, entities.LevelKey(level))
	}
	return nil
}

var _ repositories.PolicySource = (*PostgresPolicySource)(nil)
