package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	// WindowDays is the trailing window of an analysis
	WindowDays = 30
	// MaxHistoryDays bounds the history endpoint
	MaxHistoryDays = 365
	// sharedTimeout bounds a computation shared by several callers
	sharedTimeout = 15 * time.Second
)

// PriceReader reads current prices and history samples
type PriceReader interface {
	CurrentPrice(ctx context.Context, stationID string, fuel models.FuelType) (*models.Price, error)
	PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, since time.Time) ([]models.PricePoint, error)
}

// Service answers price analysis and history queries
type Service struct {
	reader PriceReader
	group  singleflight.Group
	now    func() time.Time
}

// NewService creates an analytics service over r
func NewService(r PriceReader) *Service {
	return &Service{reader: r, now: time.Now}
}

// PriceAnalysis analyses the trailing 30 days of a (station, fuel) pair.
// Identical concurrent calls share one computation, which is detached from
// the caller that started it: a caller giving up only ends its own wait.
func (s *Service) PriceAnalysis(ctx context.Context, stationID string, fuel models.FuelType) (models.Analysis, error) {
	if err := validatePair(stationID, fuel); err != nil {
		return models.Analysis{}, err
	}

	key := stationID + "|" + string(fuel)
	ch := s.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()
		return s.analyze(shared, stationID, fuel)
	})

	select {
	case <-ctx.Done():
		return models.Analysis{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Analysis{}, res.Err
		}
		return res.Val.(models.Analysis), nil
	}
}

func (s *Service) analyze(ctx context.Context, stationID string, fuel models.FuelType) (models.Analysis, error) {
	current, err := s.reader.CurrentPrice(ctx, stationID, fuel)
	if errors.Is(err, apperrors.ErrNotFound) {
		a := Analyze(nil, nil)
		a.StationID, a.FuelType = stationID, fuel
		return a, nil
	}
	if err != nil {
		return models.Analysis{}, fmt.Errorf("load current price: %w", err)
	}

	window, err := s.reader.PriceHistory(ctx, stationID, fuel, s.since(WindowDays))
	if err != nil {
		return models.Analysis{}, fmt.Errorf("load price history: %w", err)
	}

	return Analyze(current, window), nil
}

// PriceHistory returns the samples of the trailing window, oldest first.
// A non-positive window means 30 days.
func (s *Service) PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, days int) ([]models.PricePoint, error) {
	if err := validatePair(stationID, fuel); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = WindowDays
	}
	if days > MaxHistoryDays {
		return nil, apperrors.ValidationError{Field: "days", Message: fmt.Sprintf("must be at most %d", MaxHistoryDays)}
	}

	points, err := s.reader.PriceHistory(ctx, stationID, fuel, s.since(days))
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	if points == nil {
		points = []models.PricePoint{}
	}
	return points, nil
}

func (s *Service) since(days int) time.Time {
	return s.now().UTC().AddDate(0, 0, -days)
}

func validatePair(stationID string, fuel models.FuelType) error {
	if stationID == "" {
		return apperrors.ValidationError{Field: "station_id", Message: "required"}
	}
	if !fuel.Valid() {
		return apperrors.ValidationError{Field: "fuel_type", Message: fmt.Sprintf("unknown fuel type %q", fuel)}
	}
	return nil
}
