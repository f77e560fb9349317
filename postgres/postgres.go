// Package postgres exposes the PostgreSQL-backed stores, the migration
// runner and the revision change notifier for hosts that persist
// settings in a database. The root monban package stays storage
// agnostic; import this package only when PostgreSQL is in play.
package postgres

import (
	"context"
	"database/sql"
	"time"

	monban "github.com/hokkyo/monban"
	infcache "github.com/hokkyo/monban/internal/infrastructure/cache"
	"github.com/hokkyo/monban/internal/infrastructure/config"
	"github.com/hokkyo/monban/internal/infrastructure/database"
	"github.com/hokkyo/monban/internal/repositories/postgres"
)

// DB wraps the connection pool and migration runner
type DB = database.Postgres

// Config holds the connection parameters
type Config = config.DatabaseConfig

// ChangeNotifier tracks the settings revision token over LISTEN/NOTIFY,
// for use with AccessService.WithTokenSource
type ChangeNotifier = infcache.ChangeNotifier

// Open connects to PostgreSQL and verifies the connection
func Open(cfg *Config) (*DB, error) {
	return database.NewPostgres(cfg)
}

// NewSettingsStore creates the settings repository
func NewSettingsStore(db *sql.DB) monban.SettingsStore {
	return postgres.NewPostgresSettingsStore(db)
}

// PolicyStore extends the read side the service consumes with the
// administrative operations on stored policy documents
type PolicyStore interface {
	monban.PolicySource
	SavePolicy(ctx context.Context, id string, body []byte) error
	DeletePolicy(ctx context.Context, id string) error
}

// NewPolicySource creates the policy repository
func NewPolicySource(db *sql.DB) PolicyStore {
	return postgres.NewPostgresPolicySource(db)
}

// NewContentLookup creates the content attribute lookup
func NewContentLookup(db *sql.DB) monban.ContentLookup {
	return postgres.NewPostgresContentLookup(db)
}

// NewSubjectDirectory creates the role and user directory
func NewSubjectDirectory(db *sql.DB) monban.SubjectDirectory {
	return postgres.NewPostgresSubjectDirectory(db)
}

// NewChangeNotifier creates a revision token source over the revisions
// table. connStr is used for LISTEN/NOTIFY; empty means refresh-only
// mode. Call Start before use and wire the result through
// AccessService.WithTokenSource.
func NewChangeNotifier(db *sql.DB, connStr string, refreshTTL time.Duration, logger monban.Logger) *ChangeNotifier {
	return infcache.NewChangeNotifier(db, connStr, refreshTTL, logger)
}
