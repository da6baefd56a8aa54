package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// LastArchivedAt returns the newest snapshot timestamp for a session,
// or ok=false when the session has never been archived.
func (c *Client) LastArchivedAt(ctx context.Context, sessionID string) (time.Time, bool, error) {
	var unix sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT MAX(archived_at) FROM gmv_history WHERE session_id = ?`, sessionID,
	).Scan(&unix)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last archive time: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0), true, nil
}

// CopySessionToHistory appends every current live row of the session to
// the history log, all stamped with the single archivedAt value. The
// copy runs in one transaction and never mutates the live rows.
func (c *Client) CopySessionToHistory(ctx context.Context, sessionID string, archivedAt time.Time) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO gmv_history (
			session_id, session_title, archived_at,
			item_id, item_name, cover_image, clicks, ctr, orders, items_sold,
			revenue, confirmed_revenue, add_to_cart, observed_at,
			shop_id, cluster, link_sp
		)
		SELECT
			session_id, session_title, ?,
			item_id, item_name, cover_image, clicks, ctr, orders, items_sold,
			revenue, confirmed_revenue, add_to_cart, observed_at,
			shop_id, cluster, link_sp
		FROM gmv_live
		WHERE session_id = ?
	`, archivedAt.Unix(), sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to copy session to history: %w", err)
	}

	copied, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logger.Info("Session archived",
		zap.String("session_id", sessionID),
		zap.Int64("rows", copied),
		zap.Time("archived_at", archivedAt),
	)
	return copied, nil
}

// ArchivedSessions groups the history log by session, most recently
// archived first.
func (c *Client) ArchivedSessions(ctx context.Context) ([]models.ArchivedSession, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			session_id,
			MAX(session_title),
			COUNT(DISTINCT item_id),
			COUNT(DISTINCT archived_at),
			MAX(archived_at)
		FROM gmv_history
		GROUP BY session_id
		ORDER BY MAX(archived_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ArchivedSession
	for rows.Next() {
		var s models.ArchivedSession
		var lastArchived int64
		err := rows.Scan(&s.SessionID, &s.SessionTitle, &s.ItemCount, &s.TimeslotCount, &lastArchived)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived session: %w", err)
		}
		s.LastArchived = time.Unix(lastArchived, 0)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Timeslots lists every distinct snapshot timestamp for a session,
// newest first, with the row count captured at that moment.
func (c *Client) Timeslots(ctx context.Context, sessionID string) ([]models.Timeslot, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT archived_at, COUNT(*)
		FROM gmv_history
		WHERE session_id = ?
		GROUP BY archived_at
		ORDER BY archived_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeslots: %w", err)
	}
	defer rows.Close()

	var slots []models.Timeslot
	for rows.Next() {
		var unix int64
		var slot models.Timeslot
		if err := rows.Scan(&unix, &slot.ItemCount); err != nil {
			return nil, fmt.Errorf("failed to scan timeslot: %w", err)
		}
		slot.ArchivedAt = time.Unix(unix, 0)
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// SnapshotAt returns the archived rows of one timeslot, revenue
// descending. Shop and cluster prefer the current deal-list mapping when
// it resolves, falling back to the values captured at snapshot time.
func (c *Client) SnapshotAt(ctx context.Context, sessionID string, archivedAt time.Time) ([]models.SnapshotRow, error) {
	instance, err := c.InstanceForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	dealTable := dealTableName(instance)

	query := fmt.Sprintf(`
		SELECT
			h.session_id, h.session_title, h.item_id, h.item_name, h.cover_image,
			h.clicks, h.ctr, h.orders, h.items_sold, h.revenue, h.confirmed_revenue,
			h.add_to_cart, h.observed_at,
			COALESCE(NULLIF(d.shop_id, ''), h.shop_id) AS shop_id,
			COALESCE(NULLIF(d.cluster, ''), h.cluster) AS cluster,
			CASE
				WHEN COALESCE(NULLIF(d.shop_id, ''), h.shop_id) != ''
				THEN '%s' || COALESCE(NULLIF(d.shop_id, ''), h.shop_id) || '.' || h.item_id
				ELSE h.link_sp
			END AS link_sp,
			h.archived_at
		FROM gmv_history h
		LEFT JOIN %s d ON h.item_id = d.item_id
		WHERE h.session_id = ? AND h.archived_at = ?
		ORDER BY h.revenue DESC
	`, productLinkPrefix, dealTable)

	rows, err := c.db.QueryContext(ctx, query, sessionID, archivedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var result []models.SnapshotRow
	for rows.Next() {
		var r models.SnapshotRow
		var unix int64
		err := rows.Scan(
			&r.SessionID, &r.SessionTitle, &r.ItemID, &r.ItemName, &r.CoverImage,
			&r.Clicks, &r.CTR, &r.Orders, &r.ItemsSold, &r.Revenue, &r.ConfirmedRevenue,
			&r.AddToCart, &r.ObservedAt, &r.ShopID, &r.Cluster, &r.Link, &unix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		r.ArchivedAt = time.Unix(unix, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}
