package dealsync

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// Source fetches raw deal-list values plus the document title from an
// upstream location.
type Source interface {
	Fetch(ctx context.Context, url, sheetName string) (values [][]string, title string, err error)
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the document id from a Google Sheets URL. A bare
// id (no path) is accepted as-is.
func SpreadsheetID(url string) (string, error) {
	if m := spreadsheetIDPattern.FindStringSubmatch(url); m != nil {
		return m[1], nil
	}
	if regexp.MustCompile(`^[a-zA-Z0-9_-]{20,}$`).MatchString(url) {
		return url, nil
	}
	return "", fmt.Errorf("not a spreadsheet url: %s", url)
}

// SheetSource reads deal lists through the Google Sheets API.
type SheetSource struct {
	svc *sheets.Service
}

// NewSheetSource builds a Sheets client from either a service-account
// file path or inline base64-encoded credentials JSON.
func NewSheetSource(ctx context.Context, credentialsFile, credentialsB64 string) (*SheetSource, error) {
	var opts []option.ClientOption
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	case credentialsB64 != "":
		raw, err := base64.StdEncoding.DecodeString(credentialsB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(raw))
	default:
		return nil, fmt.Errorf("sheets credentials not configured")
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	logger.Info("Sheets source initialized")
	return &SheetSource{svc: svc}, nil
}

func (s *SheetSource) Fetch(ctx context.Context, url, sheetName string) ([][]string, string, error) {
	id, err := SpreadsheetID(url)
	if err != nil {
		return nil, "", err
	}

	doc, err := s.svc.Spreadsheets.Get(id).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}

	resp, err := s.svc.Spreadsheets.Values.Get(id, sheetName).Context(ctx).Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}

	values := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, fmt.Sprint(cell))
		}
		values = append(values, cells)
	}

	logger.Debug("Sheet fetched",
		zap.String("sheet", sheetName),
		zap.Int("rows", len(values)),
	)
	return values, doc.Properties.Title, nil
}
