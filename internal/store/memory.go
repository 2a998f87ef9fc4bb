package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/geo"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// InMemoryStore implements Store using in-memory storage
type InMemoryStore struct {
	mu       sync.RWMutex
	stations map[string]models.Station
	prices   map[models.PriceKey]models.Price
	history  map[models.HistoryKey]models.Price
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		stations: make(map[string]models.Station),
		prices:   make(map[models.PriceKey]models.Price),
		history:  make(map[models.HistoryKey]models.Price),
	}
}

// UpsertStations stores stations in memory
func (s *InMemoryStore) UpsertStations(ctx context.Context, stations []models.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range stations {
		if st.Location != nil {
			loc := *st.Location
			st.Location = &loc
		}
		s.stations[st.ID] = st
	}

	return nil
}

// UpsertPrices overwrites current prices and appends history. Nothing is
// written when any row references an unknown station.
func (s *InMemoryStore) UpsertPrices(ctx context.Context, prices []models.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStations(prices); err != nil {
		return err
	}
	for _, p := range prices {
		p.UpdatedAt = p.UpdatedAt.UTC()
		s.prices[p.Key()] = p
		if _, ok := s.history[p.HistoryKey()]; !ok {
			s.history[p.HistoryKey()] = p
		}
	}

	return nil
}

// InsertHistory appends history rows, ignoring rows already present
func (s *InMemoryStore) InsertHistory(ctx context.Context, entries []models.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStations(entries); err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := s.history[e.HistoryKey()]; !ok {
			e.UpdatedAt = e.UpdatedAt.UTC()
			s.history[e.HistoryKey()] = e
		}
	}

	return nil
}

func (s *InMemoryStore) checkStations(rows []models.Price) error {
	for _, p := range rows {
		if _, ok := s.stations[p.StationID]; !ok {
			return fmt.Errorf("station %s: %w", p.StationID, ErrUnknownStation)
		}
	}
	return nil
}

// CurrentPrices returns every current price ordered by station and fuel
func (s *InMemoryStore) CurrentPrices(ctx context.Context) ([]models.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Price, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].FuelType < out[j].FuelType
	})

	return out, nil
}

// CurrentPrice returns the current price of one pair or ErrNotFound
func (s *InMemoryStore) CurrentPrice(ctx context.Context, stationID string, fuel models.FuelType) (*models.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[models.PriceKey{StationID: stationID, FuelType: fuel}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

// PriceHistory returns the samples of one pair at or after since, oldest first
func (s *InMemoryStore) PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, since time.Time) ([]models.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var points []models.PricePoint
	for k, e := range s.history {
		if k.StationID != stationID || k.FuelType != fuel || e.UpdatedAt.Before(since) {
			continue
		}
		points = append(points, models.PricePoint{Date: e.UpdatedAt, Price: e.Price})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	return points, nil
}

// NearestStations mirrors the PostGIS query using haversine distances
func (s *InMemoryStore) NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	center := models.Point{Lat: q.Lat, Lon: q.Lon}
	radius := q.RadiusKm * 1000

	var results []models.StationResult
	for _, st := range s.stations {
		if st.Location == nil {
			continue
		}
		d := geo.Distance(center, *st.Location)
		if d > radius {
			continue
		}
		res := models.StationResult{
			ID:         st.ID,
			Address:    st.Address,
			City:       st.City,
			PostalCode: st.PostalCode,
			Latitude:   st.Location.Lat,
			Longitude:  st.Location.Lon,
			Distance:   d,
			Prices:     []models.PriceInfo{},
		}
		if q.Fuel != nil {
			p, ok := s.prices[models.PriceKey{StationID: st.ID, FuelType: *q.Fuel}]
			if !ok {
				continue
			}
			res.Prices = append(res.Prices, priceInfo(p))
		}
		results = append(results, res)
	}

	if q.Fuel != nil {
		sort.Slice(results, func(i, j int) bool {
			pi, pj := results[i].Prices[0].Price, results[j].Prices[0].Price
			if pi != pj {
				return pi < pj
			}
			return closer(results[i], results[j])
		})
	} else {
		sort.Slice(results, func(i, j int) bool {
			return closer(results[i], results[j])
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}

	if q.Fuel == nil {
		for i := range results {
			for _, fuel := range models.FuelTypes {
				if p, ok := s.prices[models.PriceKey{StationID: results[i].ID, FuelType: fuel}]; ok {
					results[i].Prices = append(results[i].Prices, priceInfo(p))
				}
			}
		}
	}

	if results == nil {
		results = []models.StationResult{}
	}
	return results, nil
}

// Counts reports the size of each table
func (s *InMemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Counts{
		Stations: int64(len(s.stations)),
		Prices:   int64(len(s.prices)),
		History:  int64(len(s.history)),
	}, nil
}

// Station returns a stored station
func (s *InMemoryStore) Station(id string) (models.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stations[id]
	return st, ok
}

// Health always returns nil for in-memory store
func (s *InMemoryStore) Health(ctx context.Context) error {
	return nil
}

func closer(a, b models.StationResult) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

func priceInfo(p models.Price) models.PriceInfo {
	return models.PriceInfo{FuelType: p.FuelType, Price: p.Price, UpdateDate: p.UpdatedAt}
}
