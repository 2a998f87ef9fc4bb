package ingest

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	"github.com/rajasatyajit/FuelWatch/internal/metrics"
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/rajasatyajit/FuelWatch/internal/store"
)

// FailurePolicy decides what a failed batch does to the run
type FailurePolicy string

const (
	// PolicySkip logs and discards a failed batch; the run continues
	PolicySkip FailurePolicy = "skip"
	// PolicyAbort ends the run with the batch error
	PolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy maps a configuration value onto a policy
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicySkip, PolicyAbort:
		return FailurePolicy(s), nil
	case "":
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Batch kinds, as reported in errors and metrics
const (
	KindStations = "stations"
	KindPrices   = "prices"
	KindHistory  = "history"
)

// WriterConfig sets flush thresholds and the failure policy
type WriterConfig struct {
	StationBatchSize int
	PriceBatchSize   int
	FailurePolicy    FailurePolicy
}

// Stats counts what a writer committed and lost
type Stats struct {
	StationsWritten int
	PricesWritten   int
	HistoryWritten  int
	BatchesFailed   int
	RowsLost        int
}

// Writer stages rows and flushes them in batches. Pending stations are always
// flushed before any price or history batch so that every referenced station
// exists when its dependents are written.
type Writer struct {
	store    store.Writer
	cfg      WriterConfig
	log      *slog.Logger
	stations []models.Station
	prices   []models.Price
	history  []models.Price
	stats    Stats
}

// NewWriter creates a writer over w
func NewWriter(w store.Writer, cfg WriterConfig, log *slog.Logger) *Writer {
	if cfg.StationBatchSize <= 0 {
		cfg.StationBatchSize = 500
	}
	if cfg.PriceBatchSize <= 0 {
		cfg.PriceBatchSize = 500
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicySkip
	}
	if log == nil {
		log = logger.L()
	}
	return &Writer{
		store:    w,
		cfg:      cfg,
		log:      log,
		stations: make([]models.Station, 0, cfg.StationBatchSize),
		prices:   make([]models.Price, 0, cfg.PriceBatchSize),
		history:  make([]models.Price, 0, cfg.PriceBatchSize),
	}
}

// AddStation stages a station upsert
func (w *Writer) AddStation(ctx context.Context, st models.Station) error {
	w.stations = append(w.stations, st)
	if len(w.stations) >= w.cfg.StationBatchSize {
		return w.flushStations(ctx)
	}
	return nil
}

// AddPrice stages a current price upsert together with its history row
func (w *Writer) AddPrice(ctx context.Context, p models.Price) error {
	w.prices = append(w.prices, p)
	if len(w.prices) >= w.cfg.PriceBatchSize {
		if err := w.flushStations(ctx); err != nil {
			return err
		}
		return w.flushPrices(ctx)
	}
	return nil
}

// AddHistory stages a history-only row
func (w *Writer) AddHistory(ctx context.Context, p models.Price) error {
	w.history = append(w.history, p)
	if len(w.history) >= w.cfg.PriceBatchSize {
		if err := w.flushStations(ctx); err != nil {
			return err
		}
		return w.flushHistory(ctx)
	}
	return nil
}

// Flush writes everything still staged: stations, then prices, then history
func (w *Writer) Flush(ctx context.Context) error {
	if err := w.flushStations(ctx); err != nil {
		return err
	}
	if err := w.flushPrices(ctx); err != nil {
		return err
	}
	return w.flushHistory(ctx)
}

// Stats returns the counters accumulated so far
func (w *Writer) Stats() Stats { return w.stats }

// Pending returns the number of staged rows per kind
func (w *Writer) Pending() (stations, prices, history int) {
	return len(w.stations), len(w.prices), len(w.history)
}

func (w *Writer) flushStations(ctx context.Context) error {
	batch := dedupStations(w.stations)
	w.stations = w.stations[:0]
	return w.write(ctx, KindStations, len(batch), func() error {
		return w.store.UpsertStations(ctx, batch)
	}, &w.stats.StationsWritten)
}

func (w *Writer) flushPrices(ctx context.Context) error {
	batch := dedupPrices(w.prices)
	w.prices = w.prices[:0]
	return w.write(ctx, KindPrices, len(batch), func() error {
		return w.store.UpsertPrices(ctx, batch)
	}, &w.stats.PricesWritten)
}

func (w *Writer) flushHistory(ctx context.Context) error {
	batch := dedupPrices(w.history)
	w.history = w.history[:0]
	return w.write(ctx, KindHistory, len(batch), func() error {
		return w.store.InsertHistory(ctx, batch)
	}, &w.stats.HistoryWritten)
}

func (w *Writer) write(ctx context.Context, kind string, rows int, fn func() error, written *int) error {
	if rows == 0 {
		return nil
	}

	err := fn()
	if err == nil {
		*written += rows
		metrics.RecordBatchFlush(kind, "success", rows)
		return nil
	}

	w.stats.BatchesFailed++
	w.stats.RowsLost += rows
	metrics.RecordBatchFlush(kind, "error", rows)
	bwErr := &apperrors.BatchWriteError{Kind: kind, Rows: rows, Err: err}

	if w.cfg.FailurePolicy == PolicyAbort || ctx.Err() != nil {
		return bwErr
	}
	w.log.Error("Batch discarded", "kind", kind, "rows", rows, "error", err)
	return nil
}

// dedupStations keeps the last staged row of each station, in first-seen order
func dedupStations(in []models.Station) []models.Station {
	index := make(map[string]int, len(in))
	out := make([]models.Station, 0, len(in))
	for _, st := range in {
		if i, ok := index[st.ID]; ok {
			out[i] = st
			continue
		}
		index[st.ID] = len(out)
		out = append(out, st)
	}
	return out
}

// dedupPrices keeps the last staged row of each (station, fuel, timestamp)
func dedupPrices(in []models.Price) []models.Price {
	index := make(map[models.HistoryKey]int, len(in))
	out := make([]models.Price, 0, len(in))
	for _, p := range in {
		k := p.HistoryKey()
		if i, ok := index[k]; ok {
			out[i] = p
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	return out
}
