// Package ingest runs the collection loop that keeps the live store
// current.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
)

// Batch is one producer delivery: the full current row set for one
// session, raw and unnormalized.
type Batch struct {
	SessionID    string                  `json:"session_id"`
	SessionTitle string                  `json:"session_title"`
	Rows         [][]any                 `json:"rows"`
	Overview     *models.SessionOverview `json:"overview,omitempty"`
}

// Producer delivers batches. Implementations block until a batch is
// available or the context ends.
type Producer interface {
	Produce(ctx context.Context) (*Batch, error)
}

// APIProducer pulls batches from the upstream scraper's HTTP endpoint.
type APIProducer struct {
	url        string
	httpClient *http.Client
}

func NewAPIProducer(url string) *APIProducer {
	return &APIProducer{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *APIProducer) Produce(ctx context.Context) (*Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build producer request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producer returned status %d", resp.StatusCode)
	}

	var batch Batch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	if batch.SessionID == "" {
		return nil, fmt.Errorf("producer batch has no session id")
	}
	return &batch, nil
}
