package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/perpwatch/engine/internal/model"
)

func TestWriter_Transform(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := make(chan model.AlertRecord, 10)
	w := NewWriter(cfg, input, nil, nil)

	createdAt := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	alert := model.AlertRecord{
		ID:         id,
		Address:    "0xabc",
		Instrument: "BTC",
		Size:       2.5,
		ValueUSD:   150_000,
		Leverage:   40,
		Direction:  "long",
		Source:     "leaderboard-monitor",
		CreatedAt:  createdAt,
	}

	row := w.transform(alert)

	if row.ID != id.String() {
		t.Errorf("ID = %s, want %s", row.ID, id)
	}
	if row.Address != "0xabc" {
		t.Errorf("Address = %s, want 0xabc", row.Address)
	}
	if row.Instrument != "BTC" {
		t.Errorf("Instrument = %s, want BTC", row.Instrument)
	}
	if row.Size != 2.5 {
		t.Errorf("Size = %v, want 2.5", row.Size)
	}
	if row.ValueUSD != 150_000 {
		t.Errorf("ValueUSD = %v, want 150000", row.ValueUSD)
	}
	if row.Leverage != 40 {
		t.Errorf("Leverage = %v, want 40", row.Leverage)
	}
	if row.Direction != "long" {
		t.Errorf("Direction = %s, want long", row.Direction)
	}
	if row.CreatedAt != createdAt.UnixMicro() {
		t.Errorf("CreatedAt = %d, want %d", row.CreatedAt, createdAt.UnixMicro())
	}
}

func TestWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := make(chan model.AlertRecord, 10)

	// No database attached; this exercises the goroutine lifecycle only.
	w := NewWriter(cfg, input, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWriter_HandleAlert_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	input := make(chan model.AlertRecord, 10)
	w := NewWriter(cfg, input, nil, nil)

	w.handleAlert(model.AlertRecord{
		ID:        uuid.New(),
		Address:   "0xabc",
		CreatedAt: time.Now(),
	})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestWriter_Stats(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := make(chan model.AlertRecord, 10)
	w := NewWriter(cfg, input, nil, nil)

	stats := w.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
