package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Logger is the minimal logging interface used by the notifier
type Logger interface {
	Printf(format string, v ...interface{})
}

// ChangeNotifier tracks the settings revision token used to version the
// shared decision cache across distributed instances. It listens on the
// PostgreSQL "monban_settings_changed" channel, fed by the change
// tracking triggers, and falls back to a TTL-based refresh from the
// revisions table when notifications are unavailable.
type ChangeNotifier struct {
	mu          sync.RWMutex
	token       string
	lastRefresh time.Time
	stopped     bool

	db         *sql.DB
	connStr    string
	refreshTTL time.Duration
	logger     Logger

	listener *pq.Listener
	stopCh   chan struct{}
}

// NewChangeNotifier creates a notifier over the revisions table. connStr
// is the connection string used for LISTEN/NOTIFY; when empty, the
// notifier runs in refresh-only mode and relies on refreshTTL alone.
func NewChangeNotifier(db *sql.DB, connStr string, refreshTTL time.Duration, logger Logger) *ChangeNotifier {
	return &ChangeNotifier{
		db:         db,
		connStr:    connStr,
		refreshTTL: refreshTTL,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start fetches the initial token and, when a listen connection string
// was given, starts the notification listener.
func (n *ChangeNotifier) Start(ctx context.Context) error {
	token, err := n.fetchLatestToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch initial token: %w", err)
	}
	n.store(token)

	if n.connStr == "" {
		return nil
	}
	return n.startListener()
}

// Stop closes the listener. Safe to call more than once.
func (n *ChangeNotifier) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	close(n.stopCh)
	n.mu.Unlock()

	if n.listener != nil {
		return n.listener.Close()
	}
	return nil
}

// Token implements services.TokenSource. A token older than refreshTTL
// is re-read from the revisions table before being returned.
func (n *ChangeNotifier) Token(ctx context.Context) (string, error) {
	n.mu.RLock()
	token := n.token
	stale := time.Since(n.lastRefresh) > n.refreshTTL
	n.mu.RUnlock()

	if n.db == nil {
		return token, nil
	}
	if stale || token == "" {
		return n.refresh(ctx)
	}
	return token, nil
}

// SetToken overrides the current token, bypassing the database
func (n *ChangeNotifier) SetToken(token string) {
	n.store(token)
}

func (n *ChangeNotifier) store(token string) {
	n.mu.Lock()
	n.token = token
	n.lastRefresh = time.Now()
	n.mu.Unlock()
}

func (n *ChangeNotifier) refresh(ctx context.Context) (string, error) {
	token, err := n.fetchLatestToken(ctx)
	if err != nil {
		return "", err
	}
	n.store(token)
	return token, nil
}

// fetchLatestToken reads the newest revision ID. An empty table yields
// an empty token, which callers treat as "no revisions yet".
func (n *ChangeNotifier) fetchLatestToken(ctx context.Context) (string, error) {
	var token string
	err := n.db.QueryRowContext(ctx, `
		SELECT id::text
		FROM revisions
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch latest token: %w", err)
	}
	return token, nil
}

func (n *ChangeNotifier) startListener() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.logf("listener problem (falling back to TTL refresh): %v", err)
		}
	}

	n.listener = pq.NewListener(n.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := n.listener.Listen("monban_settings_changed"); err != nil {
		return fmt.Errorf("failed to listen on monban_settings_changed: %w", err)
	}

	go n.handleNotifications(context.Background())
	return nil
}

func (n *ChangeNotifier) handleNotifications(ctx context.Context) {
	for {
		select {
		case <-n.stopCh:
			return
		case notification := <-n.listener.Notify:
			if notification == nil {
				// Connection lost; the listener reconnects on its own
				// and the TTL refresh covers the gap.
				continue
			}
			if notification.Extra == "" {
				// The trigger sends the revision ID as payload; a bare
				// NOTIFY still means something changed.
				if _, err := n.refresh(ctx); err != nil {
					n.logf("failed to refresh token after notification: %v", err)
				}
				continue
			}
			n.store(notification.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logf("listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (n *ChangeNotifier) logf(format string, v ...interface{}) {
	if n.logger != nil {
		n.logger.Printf(format, v...)
	}
}
