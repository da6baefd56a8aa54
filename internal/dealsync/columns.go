// Package dealsync pulls deal-list mappings from their upstream sources
// and replaces the local mapping tables.
package dealsync

import (
	"fmt"
	"regexp"
	"strings"
)

// Columns are the resolved cell indexes within a deal-list sheet. Cluster
// is optional and -1 when the sheet has no such column.
type Columns struct {
	ItemID  int
	ShopID  int
	Cluster int
}

func normalizeHeader(h string) string {
	h = strings.ToLower(h)
	h = strings.ReplaceAll(h, " ", "")
	return strings.ReplaceAll(h, "_", "")
}

// FindHeaderRow locates the header row inside raw sheet values. Deal-list
// sheets often start with notes or color legends, so the header is the
// first row mentioning item, id and shop together. Falls back to row 0.
func FindHeaderRow(values [][]string) int {
	for idx, row := range values {
		text := strings.ToLower(strings.Join(row, " "))
		if strings.Contains(text, "item") && strings.Contains(text, "id") && strings.Contains(text, "shop") {
			return idx
		}
	}
	return 0
}

// ResolveColumns maps header names to cell indexes. A "final item id"
// column wins over a plain "item id" one; item id headers mentioning
// "origin" are never used as the item column.
func ResolveColumns(headers []string) (Columns, error) {
	cols := Columns{ItemID: -1, ShopID: -1, Cluster: -1}

	for i, h := range headers {
		key := normalizeHeader(h)
		if strings.Contains(key, "finalitemid") && cols.ItemID < 0 {
			cols.ItemID = i
		}
		if strings.Contains(key, "shopid") && cols.ShopID < 0 {
			cols.ShopID = i
		}
		if strings.Contains(key, "cluster") && cols.Cluster < 0 {
			cols.Cluster = i
		}
	}

	if cols.ItemID < 0 {
		for i, h := range headers {
			key := normalizeHeader(h)
			if strings.Contains(key, "itemid") && !strings.Contains(key, "origin") {
				cols.ItemID = i
				break
			}
		}
	}

	if cols.ItemID < 0 || cols.ShopID < 0 {
		return cols, fmt.Errorf("deal list headers missing item id or shop id column: %v", headers)
	}
	return cols, nil
}

var nonDigits = regexp.MustCompile(`\D`)

// ExtractShopID normalizes a raw shop id cell. Cells arrive as
// "brandname+123456" or with stray formatting; the id is whatever digits
// remain after the last '+'.
func ExtractShopID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "+"); i >= 0 {
		raw = raw[i+1:]
	}
	return nonDigits.ReplaceAllString(raw, "")
}

var datePart = regexp.MustCompile(`\[[\d.]+\]`)

// ParseSheetTitle shortens a spreadsheet title into a session display
// title: the bracketed date plus the segment after the last '|'.
// "[16.01] Internal | Vũ Ngọc Anh x Phát La" becomes
// "[16.01] Vũ Ngọc Anh x Phát La". Unrecognized titles pass through.
func ParseSheetTitle(title string) string {
	if title == "" {
		return title
	}

	date := datePart.FindString(title)

	var rest string
	if i := strings.LastIndex(title, "|"); i >= 0 {
		rest = strings.TrimSpace(title[i+1:])
	} else if date != "" {
		if j := strings.Index(title, "]"); j >= 0 {
			rest = strings.TrimSpace(title[j+1:])
		}
	} else {
		rest = title
	}

	switch {
	case date != "" && rest != "":
		return date + " " + rest
	case date != "":
		return date
	case rest != "":
		return rest
	default:
		return title
	}
}
