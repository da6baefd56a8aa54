package models

import "time"

// ProductMetric is one product's dashboard metrics as observed at one
// scrape cycle, after normalization. A metric with an empty ItemID never
// reaches storage.
type ProductMetric struct {
	ItemID           string `json:"item_id"`
	ItemName         string `json:"item_name"`
	CoverImage       string `json:"cover_image,omitempty"`
	Clicks           int64  `json:"clicks"`
	CTR              string `json:"ctr"`
	Orders           int64  `json:"orders"`
	ItemsSold        int64  `json:"items_sold"`
	Revenue          int64  `json:"revenue"`
	ConfirmedRevenue int64  `json:"confirmed_revenue"`
	AddToCart        int64  `json:"add_to_cart"`
	// ObservedAt is a display string, not a structured timestamp; the
	// upstream dashboard formats it inconsistently.
	ObservedAt string `json:"datetime"`
}

// LiveRow is the current state of one product within one session,
// enriched with deal-list fields when the join resolves them.
type LiveRow struct {
	SessionID    string `json:"session_id"`
	SessionTitle string `json:"session_title"`
	ProductMetric
	ShopID    string    `json:"shop_id"`
	Cluster   string    `json:"cluster"`
	Link      string    `json:"link_sp"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// DealEntry maps a product to its selling shop and category cluster.
// ShopID is digits-only after normalization.
type DealEntry struct {
	ItemID  string `json:"item_id"`
	ShopID  string `json:"shop_id"`
	Cluster string `json:"cluster"`
}

// SessionSummary describes one active session in the directory view.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	ItemCount    int64     `json:"item_count"`
	LastScraped  time.Time `json:"last_scraped"`
}

// ArchivedSession describes one session present in the history log.
type ArchivedSession struct {
	SessionID     string    `json:"session_id"`
	SessionTitle  string    `json:"session_title"`
	ItemCount     int64     `json:"item_count"`
	TimeslotCount int64     `json:"timeslot_count"`
	LastArchived  time.Time `json:"last_archived"`
}

// Timeslot is one archived snapshot moment for a session. All rows of a
// snapshot share the same ArchivedAt, which is what identifies it.
type Timeslot struct {
	ArchivedAt time.Time `json:"archived_at"`
	ItemCount  int64     `json:"item_count"`
}

// SnapshotRow is one archived product row at one timeslot. Shop, cluster
// and link reflect the live store as of snapshot time, not a later join.
type SnapshotRow struct {
	SessionID    string `json:"session_id"`
	SessionTitle string `json:"session_title"`
	ProductMetric
	ShopID     string    `json:"shop_id"`
	Cluster    string    `json:"cluster"`
	Link       string    `json:"link_sp"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Stats aggregates the filtered result set for the dashboard summary bar.
type Stats struct {
	TotalProducts         int64 `json:"total_products"`
	TotalRevenue          int64 `json:"total_revenue"`
	TotalConfirmedRevenue int64 `json:"total_confirmed_revenue"`
	TotalClicks           int64 `json:"total_clicks"`
	TotalOrders           int64 `json:"total_orders"`
	TotalItemsSold        int64 `json:"total_items_sold"`
	TotalAddToCart        int64 `json:"total_add_to_cart"`
	WithLink              int64 `json:"with_link"`
}

// DatasetSnapshot is the unit the read cache stores: one full enriched
// dataset plus the sidecar values every dashboard response carries.
type DatasetSnapshot struct {
	Rows     []LiveRow `json:"data"`
	ShopIDs  []string  `json:"shop_ids"`
	Stats    Stats     `json:"stats"`
	LastSync string    `json:"last_sync"`
}

// SessionOverview carries the aggregate stream metrics the producer
// reports alongside product rows.
//
// AvgViewTime is stored exactly as the upstream dashboard delivers it:
// milliseconds divided by 60, which is neither seconds nor minutes. The
// unit conversion is deliberately left to the display layer; consumers
// must not assume a standard unit.
type SessionOverview struct {
	Viewers     int64   `json:"viewers"`
	AvgViewTime float64 `json:"avg_view_time"`
}
