package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

const productLinkPrefix = "https://shopee.vn/a-i."

// sortColumns is the allow-list for user-supplied sort keys. Anything
// else falls back to revenue; column names are never interpolated from
// raw input.
var sortColumns = map[string]bool{
	"revenue":           true,
	"clicks":            true,
	"add_to_cart":       true,
	"orders":            true,
	"item_name":         true,
	"confirmed_revenue": true,
	"items_sold":        true,
}

type ReadParams struct {
	SessionID string
	ShopID    string
	Search    string
	SortBy    string
	SortDir   string
	Page      int
	PerPage   int
}

func (p *ReadParams) normalize() {
	if !sortColumns[p.SortBy] {
		p.SortBy = "revenue"
	}
	if p.SortDir != "asc" && p.SortDir != "desc" {
		p.SortDir = "desc"
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 10 {
		p.PerPage = 10
	}
	if p.PerPage > 10000 {
		p.PerPage = 10000
	}
}

type ReadResult struct {
	Rows  []models.LiveRow
	Total int64
	Stats models.Stats
}

// WriteBatch replaces the full row set of one session: delete everything
// under sessionID, then insert the incoming batch, all in one
// transaction. Duplicate item ids within the batch collapse to the last
// occurrence. Rows of other sessions are never read or touched.
//
// Producers deliver metrics only; the denormalized shop/cluster/link
// columns are filled from the session's pinned deal-list instance
// inside the same transaction so they survive every rewrite.
func (c *Client) WriteBatch(ctx context.Context, sessionID, sessionTitle string, metrics []models.ProductMetric) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	instance, err := c.InstanceForSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	// Last occurrence wins; upstream appends newer readings below older ones.
	order := make([]string, 0, len(metrics))
	latest := make(map[string]models.ProductMetric, len(metrics))
	for _, m := range metrics {
		if m.ItemID == "" {
			continue
		}
		if _, seen := latest[m.ItemID]; !seen {
			order = append(order, m.ItemID)
		}
		latest[m.ItemID] = m
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM gmv_live WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("failed to clear session rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gmv_live (
			session_id, item_id, session_title, item_name, cover_image,
			clicks, ctr, orders, items_sold, revenue, confirmed_revenue,
			add_to_cart, observed_at, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	scrapedAt := c.now().Unix()
	for _, itemID := range order {
		m := latest[itemID]
		_, err := stmt.ExecContext(ctx,
			sessionID, m.ItemID, sessionTitle, m.ItemName, m.CoverImage,
			m.Clicks, m.CTR, m.Orders, m.ItemsSold, m.Revenue, m.ConfirmedRevenue,
			m.AddToCart, m.ObservedAt, scrapedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item %s: %w", m.ItemID, err)
		}
	}

	enrich := fmt.Sprintf(`
		UPDATE gmv_live SET
			shop_id = (SELECT d.shop_id FROM %[1]s d WHERE d.item_id = gmv_live.item_id),
			cluster = (SELECT d.cluster FROM %[1]s d WHERE d.item_id = gmv_live.item_id),
			link_sp = '%[2]s' || (SELECT d.shop_id FROM %[1]s d WHERE d.item_id = gmv_live.item_id) || '.' || item_id
		WHERE session_id = ? AND item_id IN (SELECT item_id FROM %[1]s)
	`, dealTableName(instance), productLinkPrefix)
	if _, err := tx.ExecContext(ctx, enrich, sessionID); err != nil {
		return 0, fmt.Errorf("failed to enrich session rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	logger.Debug("Batch written",
		zap.String("session_id", sessionID),
		zap.Int("items", len(order)),
	)
	return len(order), nil
}

// Read returns enriched rows for the dashboard: live rows left-joined
// against the deal-list instance pinned to the requested session, with
// filtering, allow-listed sorting, pagination and aggregate stats.
func (c *Client) Read(ctx context.Context, params ReadParams) (*ReadResult, error) {
	params.normalize()

	dealTable := "deal_list"
	if params.SessionID != "" {
		instance, err := c.InstanceForSession(ctx, params.SessionID)
		if err != nil {
			return nil, err
		}
		dealTable = dealTableName(instance)
	}

	var where []string
	var args []any
	if params.SessionID != "" {
		where = append(where, "g.session_id = ?")
		args = append(args, params.SessionID)
	}
	if params.ShopID != "" {
		where = append(where, "COALESCE(NULLIF(d.shop_id, ''), g.shop_id) = ?")
		args = append(args, params.ShopID)
	}
	if params.Search != "" {
		where = append(where, "(LOWER(g.item_name) LIKE ? OR g.item_id LIKE ?)")
		term := "%" + strings.ToLower(params.Search) + "%"
		args = append(args, term, term)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	fromSQL := fmt.Sprintf("FROM gmv_live g LEFT JOIN %s d ON g.item_id = d.item_id", dealTable)

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s %s", fromSQL, whereSQL)
	if err := c.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	// SortBy and SortDir come from the allow-list above, never raw input.
	dataQuery := fmt.Sprintf(`
		SELECT
			g.session_id, g.session_title, g.item_id, g.item_name, g.cover_image,
			g.clicks, g.ctr, g.orders, g.items_sold, g.revenue, g.confirmed_revenue,
			g.add_to_cart, g.observed_at,
			COALESCE(NULLIF(d.shop_id, ''), g.shop_id) AS shop_id,
			COALESCE(NULLIF(d.cluster, ''), g.cluster) AS cluster,
			CASE
				WHEN COALESCE(NULLIF(d.shop_id, ''), g.shop_id) != ''
				THEN '%s' || COALESCE(NULLIF(d.shop_id, ''), g.shop_id) || '.' || g.item_id
				ELSE g.link_sp
			END AS link_sp,
			g.scraped_at
		%s
		%s
		ORDER BY g.%s %s
		LIMIT ? OFFSET ?
	`, productLinkPrefix, fromSQL, whereSQL, params.SortBy, strings.ToUpper(params.SortDir))

	offset := (params.Page - 1) * params.PerPage
	rows, err := c.db.QueryContext(ctx, dataQuery, append(args, params.PerPage, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	result := &ReadResult{Total: total}
	for rows.Next() {
		var r models.LiveRow
		var scrapedAt int64
		err := rows.Scan(
			&r.SessionID, &r.SessionTitle, &r.ItemID, &r.ItemName, &r.CoverImage,
			&r.Clicks, &r.CTR, &r.Orders, &r.ItemsSold, &r.Revenue, &r.ConfirmedRevenue,
			&r.AddToCart, &r.ObservedAt, &r.ShopID, &r.Cluster, &r.Link, &scrapedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.ScrapedAt = time.Unix(scrapedAt, 0)
		result.Rows = append(result.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	statsQuery := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(g.revenue), 0),
			COALESCE(SUM(g.confirmed_revenue), 0),
			COALESCE(SUM(g.clicks), 0),
			COALESCE(SUM(g.orders), 0),
			COALESCE(SUM(g.items_sold), 0),
			COALESCE(SUM(g.add_to_cart), 0),
			COUNT(CASE WHEN COALESCE(NULLIF(d.shop_id, ''), g.shop_id) != '' OR g.link_sp != '' THEN 1 END)
		%s
		%s
	`, fromSQL, whereSQL)

	s := &result.Stats
	err = c.db.QueryRowContext(ctx, statsQuery, args...).Scan(
		&s.TotalProducts, &s.TotalRevenue, &s.TotalConfirmedRevenue,
		&s.TotalClicks, &s.TotalOrders, &s.TotalItemsSold, &s.TotalAddToCart, &s.WithLink,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	return result, nil
}

// DistinctShopIDs lists every resolvable shop id for the filter dropdown.
func (c *Client) DistinctShopIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT COALESCE(NULLIF(d.shop_id, ''), g.shop_id) AS shop_id
		FROM gmv_live g
		LEFT JOIN deal_list d ON g.item_id = d.item_id
		WHERE COALESCE(NULLIF(d.shop_id, ''), g.shop_id) != ''
		ORDER BY shop_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shop ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan shop id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestObservedAt returns the newest observation string in the live
// store, used as the dashboard's "last synced" display value.
func (c *Client) LatestObservedAt(ctx context.Context) (string, error) {
	var latest sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT MAX(observed_at) FROM gmv_live`).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("failed to query latest observation: %w", err)
	}
	return latest.String, nil
}

// ActiveSessions groups the live store by session, newest session id
// first. The title shown prefers the most recent one that is neither
// empty nor the synthetic "Session <id>" placeholder.
func (c *Client) ActiveSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 2
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(scraped_at)
		FROM gmv_live
		GROUP BY session_id
		ORDER BY session_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		var lastScraped int64
		if err := rows.Scan(&s.SessionID, &s.ItemCount, &lastScraped); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.LastScraped = time.Unix(lastScraped, 0)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		title, err := c.bestSessionTitle(ctx, sessions[i].SessionID)
		if err != nil {
			return nil, err
		}
		sessions[i].SessionTitle = title
	}

	return sessions, nil
}

func (c *Client) bestSessionTitle(ctx context.Context, sessionID string) (string, error) {
	var title string
	err := c.db.QueryRowContext(ctx, `
		SELECT session_title FROM gmv_live
		WHERE session_id = ? AND session_title != '' AND session_title NOT LIKE 'Session %'
		ORDER BY scraped_at DESC LIMIT 1
	`, sessionID).Scan(&title)
	if err == nil {
		return title, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve session title: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT session_title FROM gmv_live
		WHERE session_id = ?
		ORDER BY scraped_at DESC LIMIT 1
	`, sessionID).Scan(&title)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve session title: %w", err)
	}
	return title, nil
}

// UpdateSessionTitles renames every live session pinned to the given
// deal-list instance, and mirrors the rename into the history log so the
// archive directory shows the resolved name too.
func (c *Client) UpdateSessionTitles(ctx context.Context, instance int, title string) (int64, error) {
	if title == "" {
		return 0, nil
	}

	var cond string
	if instance == 2 {
		cond = "session_id IN (SELECT session_id FROM session_deallist WHERE deallist_id = 2)"
	} else {
		cond = "session_id NOT IN (SELECT session_id FROM session_deallist WHERE deallist_id = 2)"
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE gmv_live SET session_title = ? WHERE `+cond, title)
	if err != nil {
		return 0, fmt.Errorf("failed to update live titles: %w", err)
	}
	updated, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `UPDATE gmv_history SET session_title = ? WHERE `+cond, title); err != nil {
		return 0, fmt.Errorf("failed to update history titles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit title update: %w", err)
	}
	return updated, nil
}

// KeepLatestSessions deletes live rows of all but the n most recent
// sessions (session ids are time-derived, so id order is age order).
// The history log is never touched by retention.
func (c *Client) KeepLatestSessions(ctx context.Context, n int) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("retention count must be at least 1")
	}

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM gmv_live
		WHERE session_id NOT IN (
			SELECT DISTINCT session_id FROM gmv_live
			ORDER BY session_id DESC
			LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep old sessions: %w", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		logger.Info("Session retention sweep",
			zap.Int("kept", n),
			zap.Int64("rows_deleted", deleted),
		)
	}
	return deleted, nil
}

// RefreshLiveEnrichment copies shop/cluster/link from a deal-list
// instance into the denormalized live columns, so later snapshots carry
// the mapping as of snapshot time. Only sessions pinned to that instance
// are updated.
func (c *Client) RefreshLiveEnrichment(ctx context.Context, instance int) (int64, error) {
	dealTable := dealTableName(instance)

	var sessionCond string
	if instance == 2 {
		sessionCond = "session_id IN (SELECT session_id FROM session_deallist WHERE deallist_id = 2)"
	} else {
		sessionCond = "session_id NOT IN (SELECT session_id FROM session_deallist WHERE deallist_id = 2)"
	}

	query := fmt.Sprintf(`
		UPDATE gmv_live SET
			shop_id = (SELECT d.shop_id FROM %[1]s d WHERE d.item_id = gmv_live.item_id),
			cluster = (SELECT d.cluster FROM %[1]s d WHERE d.item_id = gmv_live.item_id),
			link_sp = '%[2]s' || (SELECT d.shop_id FROM %[1]s d WHERE d.item_id = gmv_live.item_id) || '.' || item_id
		WHERE item_id IN (SELECT item_id FROM %[1]s) AND %[3]s
	`, dealTable, productLinkPrefix, sessionCond)

	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh live enrichment: %w", err)
	}
	updated, _ := res.RowsAffected()
	return updated, nil
}
