// Package normalize converts raw producer rows (ordered, loosely-typed
// cells) into well-formed product metrics. The cell layout is data, not
// code: producers that add or move columns supply a different ColumnMap.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// MinColumns is the shortest row that can still carry the required
// fields (through revenue). Shorter rows are skipped, not failed.
const MinColumns = 8

// ColumnMap assigns each record field a cell index. An index of -1 means
// the producer does not deliver that field.
type ColumnMap struct {
	ObservedAt       int
	ItemID           int
	ItemName         int
	CoverImage       int
	Clicks           int
	CTR              int
	Orders           int
	ItemsSold        int
	Revenue          int
	ClickToOrder     int
	AddToCart        int
	ConfirmedRevenue int
}

// DefaultColumns matches the plain dashboard export:
// datetime, item id, name, clicks, ctr, orders, items sold, revenue,
// click-to-order, add-to-cart, confirmed revenue.
func DefaultColumns() ColumnMap {
	return ColumnMap{
		ObservedAt:       0,
		ItemID:           1,
		ItemName:         2,
		CoverImage:       -1,
		Clicks:           3,
		CTR:              4,
		Orders:           5,
		ItemsSold:        6,
		Revenue:          7,
		ClickToOrder:     8,
		AddToCart:        9,
		ConfirmedRevenue: 10,
	}
}

// CoverImageColumns matches the newer export that inserts a cover image
// cell after the product name, shifting everything behind it by one.
func CoverImageColumns() ColumnMap {
	return ColumnMap{
		ObservedAt:       0,
		ItemID:           1,
		ItemName:         2,
		CoverImage:       3,
		Clicks:           4,
		CTR:              5,
		Orders:           6,
		ItemsSold:        7,
		Revenue:          8,
		ClickToOrder:     9,
		AddToCart:        10,
		ConfirmedRevenue: 11,
	}
}

// Row converts one raw row into a metric. ok=false means the row was
// dropped (too short, or no addressable item id); a dropped row is a
// data-quality event, never an error.
func (m ColumnMap) Row(cells []any) (models.ProductMetric, bool) {
	if len(cells) < MinColumns {
		logger.Warn("Row too short, skipping",
			zap.Int("cells", len(cells)),
			zap.Int("min", MinColumns),
		)
		return models.ProductMetric{}, false
	}

	itemID := strings.TrimSpace(cellString(cells, m.ItemID))
	if itemID == "" {
		logger.Warn("Row without item id, skipping")
		return models.ProductMetric{}, false
	}

	return models.ProductMetric{
		ItemID:           itemID,
		ItemName:         cellString(cells, m.ItemName),
		CoverImage:       cellString(cells, m.CoverImage),
		Clicks:           ParseAmount(cell(cells, m.Clicks)),
		CTR:              cellString(cells, m.CTR),
		Orders:           ParseAmount(cell(cells, m.Orders)),
		ItemsSold:        ParseAmount(cell(cells, m.ItemsSold)),
		Revenue:          ParseAmount(cell(cells, m.Revenue)),
		ConfirmedRevenue: ParseAmount(cell(cells, m.ConfirmedRevenue)),
		AddToCart:        ParseAmount(cell(cells, m.AddToCart)),
		ObservedAt:       cellString(cells, m.ObservedAt),
	}, true
}

// Batch normalizes a whole raw batch, dropping unusable rows.
func (m ColumnMap) Batch(rows [][]any) []models.ProductMetric {
	out := make([]models.ProductMetric, 0, len(rows))
	for _, cells := range rows {
		if metric, ok := m.Row(cells); ok {
			out = append(out, metric)
		}
	}
	return out
}

// ParseAmount reads a numeric cell the way the dashboard formats them:
// nil or empty means zero, thousands separators (both comma and dot
// styles) and currency glyphs are stripped, and anything that still does
// not parse defaults to zero rather than failing the batch.
func ParseAmount(v any) int64 {
	if v == nil {
		return 0
	}

	s, ok := v.(string)
	if !ok {
		switch n := v.(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		default:
			s = fmt.Sprint(v)
		}
	}

	cleaned := strings.NewReplacer(",", "", ".", "", "₫", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0
	}

	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func cell(cells []any, idx int) any {
	if idx < 0 || idx >= len(cells) {
		return nil
	}
	return cells[idx]
}

func cellString(cells []any, idx int) string {
	v := cell(cells, idx)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
