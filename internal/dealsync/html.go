package dealsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// PublishedSource scrapes a published-to-web spreadsheet page. It covers
// deployments without API credentials: the published page carries the
// same table, minus metadata, so the sheet name is ignored.
type PublishedSource struct {
	httpClient *http.Client
}

func NewPublishedSource() *PublishedSource {
	return &PublishedSource{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *PublishedSource) Fetch(ctx context.Context, url, _ string) ([][]string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; gmvtracker/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch published sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("published sheet returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse published sheet: %w", err)
	}

	var values [][]string
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) > 0 {
			values = append(values, cells)
		}
	})

	title := strings.TrimSpace(doc.Find("title").Text())
	title = strings.TrimSuffix(title, " - Google Drive")
	title = strings.TrimSuffix(title, " - Google Trang tính")

	logger.Debug("Published sheet fetched",
		zap.Int("rows", len(values)),
		zap.String("title", title),
	)
	return values, title, nil
}
