package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// Client owns the SQLite database holding the live session table, the
// append-only history log, both deal-list instances and the runtime
// config. All mutating operations run inside single transactions so
// concurrent readers never observe partial state.
type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

// SetClock overrides the wall clock. Tests use it to make scraped_at and
// archived_at values deterministic.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gmv_live (
		session_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		session_title TEXT NOT NULL DEFAULT '',
		item_name TEXT NOT NULL DEFAULT '',
		cover_image TEXT NOT NULL DEFAULT '',
		clicks INTEGER NOT NULL DEFAULT 0,
		ctr TEXT NOT NULL DEFAULT '',
		orders INTEGER NOT NULL DEFAULT 0,
		items_sold INTEGER NOT NULL DEFAULT 0,
		revenue INTEGER NOT NULL DEFAULT 0,
		confirmed_revenue INTEGER NOT NULL DEFAULT 0,
		add_to_cart INTEGER NOT NULL DEFAULT 0,
		observed_at TEXT NOT NULL DEFAULT '',
		shop_id TEXT NOT NULL DEFAULT '',
		cluster TEXT NOT NULL DEFAULT '',
		link_sp TEXT NOT NULL DEFAULT '',
		scraped_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_live_revenue ON gmv_live(revenue DESC);
	CREATE INDEX IF NOT EXISTS idx_live_clicks ON gmv_live(clicks DESC);
	CREATE INDEX IF NOT EXISTS idx_live_orders ON gmv_live(orders DESC);
	CREATE INDEX IF NOT EXISTS idx_live_add_to_cart ON gmv_live(add_to_cart DESC);
	CREATE INDEX IF NOT EXISTS idx_live_shop ON gmv_live(shop_id);

	CREATE TABLE IF NOT EXISTS gmv_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		session_title TEXT NOT NULL DEFAULT '',
		archived_at INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		cover_image TEXT NOT NULL DEFAULT '',
		clicks INTEGER NOT NULL DEFAULT 0,
		ctr TEXT NOT NULL DEFAULT '',
		orders INTEGER NOT NULL DEFAULT 0,
		items_sold INTEGER NOT NULL DEFAULT 0,
		revenue INTEGER NOT NULL DEFAULT 0,
		confirmed_revenue INTEGER NOT NULL DEFAULT 0,
		add_to_cart INTEGER NOT NULL DEFAULT 0,
		observed_at TEXT NOT NULL DEFAULT '',
		shop_id TEXT NOT NULL DEFAULT '',
		cluster TEXT NOT NULL DEFAULT '',
		link_sp TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON gmv_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_history_archived ON gmv_history(archived_at);
	CREATE INDEX IF NOT EXISTS idx_history_session_archived ON gmv_history(session_id, archived_at);

	CREATE TABLE IF NOT EXISTS deal_list (
		item_id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		cluster TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS deal_list_2 (
		item_id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		cluster TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS session_deallist (
		session_id TEXT PRIMARY KEY,
		deallist_id INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// GetConfig returns the stored value for key, or "" when absent.
func (c *Client) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, nil
}

func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}
