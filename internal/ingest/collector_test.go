package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondk-network/gmvtracker/internal/archive"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
)

type scriptedProducer struct {
	batches []*Batch
	errs    []error
	calls   int
	onCall  func(call int)
}

func (p *scriptedProducer) Produce(context.Context) (*Batch, error) {
	i := p.calls
	p.calls++
	if p.onCall != nil {
		p.onCall(i)
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.batches) {
		return p.batches[i], nil
	}
	return nil, errors.New("no more batches")
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

func rawRow(itemID string, revenue string) []any {
	return []any{"2025-01-15 20:30", itemID, "item " + itemID, "10", "1%", "2", "3", revenue}
}

func TestCollectorWritesBatchThenStops(t *testing.T) {
	store := newTestStore(t)

	var collector *Collector
	producer := &scriptedProducer{
		batches: []*Batch{{
			SessionID:    "1758200000",
			SessionTitle: "Live test",
			Rows:         [][]any{rawRow("1001", "1,000"), rawRow("1002", "2,000")},
			Overview:     &models.SessionOverview{Viewers: 120, AvgViewTime: 33.5},
		}},
		onCall: func(int) { collector.Stop() },
	}
	collector = NewCollector(store, archive.NewEngine(store), producer, Options{
		CycleInterval:  time.Millisecond,
		FailureBackoff: time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		collector.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}

	result, err := store.Read(context.Background(), sqlite.ReadParams{SessionID: "1758200000"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
	assert.Equal(t, int64(3000), result.Stats.TotalRevenue)

	overview, err := store.GetConfig(context.Background(), "session_overview")
	require.NoError(t, err)
	assert.Contains(t, overview, `"viewers":120`)
}

func TestCollectorRecoversAfterFailure(t *testing.T) {
	store := newTestStore(t)

	var collector *Collector
	producer := &scriptedProducer{
		errs: []error{errors.New("scrape timeout"), nil},
		batches: []*Batch{nil, {
			SessionID: "1758200000",
			Rows:      [][]any{rawRow("1001", "500")},
		}},
		onCall: func(call int) {
			if call == 1 {
				collector.Stop()
			}
		},
	}
	collector = NewCollector(store, archive.NewEngine(store), producer, Options{
		CycleInterval:  time.Millisecond,
		FailureBackoff: time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		collector.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}

	assert.Equal(t, 2, producer.calls)
	result, err := store.Read(context.Background(), sqlite.ReadParams{SessionID: "1758200000"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
}

func TestCollectorStopsDuringPause(t *testing.T) {
	store := newTestStore(t)

	producer := &scriptedProducer{
		batches: []*Batch{{
			SessionID: "1758200000",
			Rows:      [][]any{rawRow("1001", "1")},
		}},
	}
	collector := NewCollector(store, archive.NewEngine(store), producer, Options{
		CycleInterval: time.Hour,
	})

	done := make(chan struct{})
	go func() {
		collector.Run(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	collector.Stop()

	// The stop flag is polled once a second even inside a long pause.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("collector did not notice stop during pause")
	}
}
