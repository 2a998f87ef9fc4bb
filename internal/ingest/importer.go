package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/feed"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	"github.com/rajasatyajit/FuelWatch/internal/metrics"
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/rajasatyajit/FuelWatch/internal/runlock"
	"github.com/rajasatyajit/FuelWatch/internal/store"
)

// Source opens the XML document of a feed
type Source interface {
	Open(ctx context.Context, id feed.ID) (io.ReadCloser, error)
}

// Store is what an ingestion run reads and writes
type Store interface {
	store.Writer
	PriceLoader
}

// Guard admits one run at a time
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), err error)
}

// Config controls batch sizes and failure handling of runs
type Config struct {
	StationBatchSize int
	PriceBatchSize   int
	ArchiveBatchSize int
	FailurePolicy    FailurePolicy
	ProgressEvery    int
}

// Status is a point-in-time view of the importer
type Status struct {
	Running bool `json:"running"`
	// DistributedLock is true when the run guard is shared across processes
	DistributedLock bool              `json:"distributed_lock"`
	Current         *models.RunReport `json:"current,omitempty"`
	Last            *models.RunReport `json:"last,omitempty"`
}

// distributed is implemented by guards that can span processes
type distributed interface {
	Distributed() bool
}

// Importer drives ingestion runs for both the snapshot and the yearly archives
type Importer struct {
	src   Source
	store Store
	guard Guard
	norm  *feed.Normalizer
	cfg   Config

	mu      sync.Mutex
	current *models.RunReport
	last    *models.RunReport
}

// NewImporter creates an importer. A nil guard admits one run per process.
func NewImporter(src Source, st Store, guard Guard, loc *time.Location, cfg Config) *Importer {
	if guard == nil {
		guard = runlock.New()
	}
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = 5000
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 1000
	}
	return &Importer{
		src:   src,
		store: st,
		guard: guard,
		norm:  feed.NewNormalizer(loc),
		cfg:   cfg,
	}
}

// ImportSnapshot ingests the current snapshot. Prices identical to the last
// known value are not written.
func (im *Importer) ImportSnapshot(ctx context.Context) (models.RunReport, error) {
	release, err := im.guard.TryAcquire(ctx)
	if err != nil {
		return models.RunReport{}, err
	}
	defer release()

	return im.run(ctx, feed.Snapshot())
}

// ImportYears ingests the yearly archives in order. Every year is attempted;
// failures are returned together.
func (im *Importer) ImportYears(ctx context.Context, years []int) ([]models.RunReport, error) {
	release, err := im.guard.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var reports []models.RunReport
	var errs apperrors.MultiError
	for _, y := range years {
		if ctx.Err() != nil {
			errs.Add(fmt.Errorf("year %d: %w", y, ctx.Err()))
			continue
		}
		report, err := im.run(ctx, feed.Year(y))
		reports = append(reports, report)
		if err != nil {
			errs.Add(fmt.Errorf("year %d: %w", y, err))
		}
	}

	return reports, errs.ErrorOrNil()
}

// Status returns the running and last finished reports
func (im *Importer) Status() Status {
	im.mu.Lock()
	defer im.mu.Unlock()

	s := Status{Running: im.current != nil}
	if d, ok := im.guard.(distributed); ok {
		s.DistributedLock = d.Distributed()
	}
	if im.current != nil {
		cur := *im.current
		s.Current = &cur
	}
	if im.last != nil {
		last := *im.last
		s.Last = &last
	}
	return s
}

func (im *Importer) run(ctx context.Context, id feed.ID) (models.RunReport, error) {
	report := models.RunReport{
		RunID:     uuid.NewString(),
		Feed:      id.String(),
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	log := logger.WithRun(report.RunID, report.Feed)
	log.Info("Ingestion run started")
	im.publish(&report)

	err := im.ingest(ctx, id, &report, log)

	report.FinishedAt = time.Now().UTC()
	outcome := "success"
	report.Status = models.RunSucceeded
	if err != nil {
		outcome = "error"
		report.Status = models.RunFailed
		report.Error = err.Error()
		log.Error("Ingestion run failed", "error", err)
	}
	metrics.RecordIngestRun(report.Feed, outcome, report.FinishedAt.Sub(report.StartedAt))

	log.Info("Ingestion run finished",
		"status", report.Status,
		"stations", report.Stations,
		"stations_skipped", report.StationsSkipped,
		"observations", report.Observations,
		"changed", report.Changed,
		"unchanged", report.Unchanged,
		"rejected", report.Rejected,
		"batches_failed", report.BatchesFailed,
		"rows_lost", report.RowsLost,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	im.mu.Lock()
	im.current = nil
	last := report
	im.last = &last
	im.mu.Unlock()

	return report, err
}

func (im *Importer) ingest(ctx context.Context, id feed.ID, report *models.RunReport, log *slog.Logger) error {
	var cache *ChangeCache
	wcfg := WriterConfig{
		StationBatchSize: im.cfg.StationBatchSize,
		PriceBatchSize:   im.cfg.PriceBatchSize,
		FailurePolicy:    im.cfg.FailurePolicy,
	}
	if id.IsSnapshot() {
		var err error
		if cache, err = LoadChangeCache(ctx, im.store); err != nil {
			return err
		}
		log.Debug("Change cache loaded", "pairs", cache.Len())
	} else {
		wcfg.PriceBatchSize = im.cfg.ArchiveBatchSize
	}

	doc, err := im.src.Open(ctx, id)
	if err != nil {
		return err
	}
	defer doc.Close()

	w := NewWriter(im.store, wcfg, log)
	defer func() {
		st := w.Stats()
		report.StationsWritten = st.StationsWritten
		report.PricesWritten = st.PricesWritten
		report.HistoryWritten = st.HistoryWritten
		report.BatchesFailed = st.BatchesFailed
		report.RowsLost = st.RowsLost
	}()

	p := feed.NewParser(doc)
	p.OnSkip(func(err error) {
		log.Debug("Station skipped", "error", err)
	})

	for p.Next() {
		station, prices, errs := im.norm.Normalize(p.Record())
		report.Stations++
		for _, e := range errs {
			report.Rejected++
			metrics.RecordObservation("rejected")
			log.Debug("Observation dropped", "error", e)
		}

		if err := w.AddStation(ctx, station); err != nil {
			return err
		}

		for _, price := range prices {
			report.Observations++
			if cache == nil {
				if err := w.AddHistory(ctx, price); err != nil {
					return err
				}
				continue
			}
			if !cache.Observe(price) {
				report.Unchanged++
				metrics.RecordObservation("unchanged")
				continue
			}
			report.Changed++
			metrics.RecordObservation("changed")
			if err := w.AddPrice(ctx, price); err != nil {
				return err
			}
		}

		if report.Stations%im.cfg.ProgressEvery == 0 {
			report.StationsSkipped = p.Skipped()
			log.Info("Ingestion progress", "stations", report.Stations)
			im.publish(report)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	report.StationsSkipped = p.Skipped()

	if err := w.Flush(ctx); err != nil {
		return err
	}
	return p.Err()
}

func (im *Importer) publish(report *models.RunReport) {
	im.mu.Lock()
	defer im.mu.Unlock()
	cur := *report
	im.current = &cur
}
