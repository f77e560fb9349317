package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
)

// PostgresContentLookup implements ContentLookup using PostgreSQL
type PostgresContentLookup struct {
	db *sql.DB
}

// NewPostgresContentLookup creates a new PostgreSQL content lookup
func NewPostgresContentLookup(db *sql.DB) repositories.ContentLookup {
	return &PostgresContentLookup{db: db}
}

// GetContent returns the content item, or (nil, nil) when it does not exist
func (r *PostgresContentLookup) GetContent(ctx context.Context, id int64, contentType string) (*entities.ContentItem, error) {
	query := `
		SELECT slug, status, author_id
		FROM contents
		WHERE id = $1 AND content_type = $2
	`
	var slug, status string
	var authorID int64
	err := r.db.QueryRowContext(ctx, query, id, contentType).Scan(&slug, &status, &authorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content %d/%s: %w", id, contentType, err)
	}

	return &entities.ContentItem{
		ID:       id,
		Type:     contentType,
		Slug:     slug,
		Status:   status,
		AuthorID: authorID,
	}, nil
}
