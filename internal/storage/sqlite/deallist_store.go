package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// ErrInvalidInstance rejects deal-list instances outside 1 and 2.
var ErrInvalidInstance = errors.New("deal-list instance must be 1 or 2")

func dealTableName(instance int) string {
	if instance == 2 {
		return "deal_list_2"
	}
	return "deal_list"
}

// ReplaceAll swaps the entire deal-list instance in one transaction:
// delete everything, bulk-insert the new set. The table is a derived
// cache of an external source, never patched row by row. Entries missing
// an item id or shop id are excluded before the transaction starts, so a
// partial entry never lands. Any failure rolls back to the previous
// mapping untouched.
func (c *Client) ReplaceAll(ctx context.Context, instance int, entries []models.DealEntry) (int, error) {
	valid := make([]models.DealEntry, 0, len(entries))
	for _, e := range entries {
		if e.ItemID == "" || e.ShopID == "" {
			continue
		}
		valid = append(valid, e)
	}

	table := dealTableName(instance)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (item_id, shop_id, cluster) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range valid {
		if _, err := stmt.ExecContext(ctx, e.ItemID, e.ShopID, e.Cluster); err != nil {
			return 0, fmt.Errorf("failed to insert deal entry %s: %w", e.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit deal list: %w", err)
	}

	logger.Info("Deal list replaced",
		zap.String("table", table),
		zap.Int("entries", len(valid)),
		zap.Int("skipped", len(entries)-len(valid)),
	)
	return len(valid), nil
}

// PinSession records which deal-list instance a session joins against.
func (c *Client) PinSession(ctx context.Context, sessionID string, instance int) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if instance != 1 && instance != 2 {
		return fmt.Errorf("%w, got %d", ErrInvalidInstance, instance)
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO session_deallist (session_id, deallist_id) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET deallist_id = excluded.deallist_id
	`, sessionID, instance)
	if err != nil {
		return fmt.Errorf("failed to pin session: %w", err)
	}
	return nil
}

// InstanceForSession returns the pinned deal-list instance, defaulting
// to the primary one.
func (c *Client) InstanceForSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 1, nil
	}

	var instance int
	err := c.db.QueryRowContext(ctx,
		`SELECT deallist_id FROM session_deallist WHERE session_id = ?`, sessionID,
	).Scan(&instance)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up session deal list: %w", err)
	}
	return instance, nil
}

// SessionMappings returns every explicit session → instance pin.
func (c *Client) SessionMappings(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT session_id, deallist_id FROM session_deallist`)
	if err != nil {
		return nil, fmt.Errorf("failed to query session mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(map[string]int)
	for rows.Next() {
		var sessionID string
		var instance int
		if err := rows.Scan(&sessionID, &instance); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings[sessionID] = instance
	}
	return mappings, rows.Err()
}

// DealEntryCount reports the size of a deal-list instance.
func (c *Client) DealEntryCount(ctx context.Context, instance int) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+dealTableName(instance)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deal entries: %w", err)
	}
	return count, nil
}
