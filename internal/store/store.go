package store

import (
	"context"
	"errors"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// ErrUnknownStation is returned when a price or history row references a
// station that was never written.
var ErrUnknownStation = errors.New("unknown station")

// Writer persists ingested rows. Each call is one atomic unit: the rows are
// either all committed or none are.
type Writer interface {
	// UpsertStations inserts stations or overwrites location, address, city and postal code.
	UpsertStations(ctx context.Context, stations []models.Station) error
	// UpsertPrices overwrites the current price of each (station, fuel) pair and
	// records the same observations in the history.
	UpsertPrices(ctx context.Context, prices []models.Price) error
	// InsertHistory appends history rows, ignoring rows already present.
	InsertHistory(ctx context.Context, entries []models.Price) error
}

// Reader answers the read-side queries
type Reader interface {
	CurrentPrices(ctx context.Context) ([]models.Price, error)
	CurrentPrice(ctx context.Context, stationID string, fuel models.FuelType) (*models.Price, error)
	PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, since time.Time) ([]models.PricePoint, error)
	NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error)
	Counts(ctx context.Context) (Counts, error)
}

// Store defines the interface for fuel price storage
type Store interface {
	Writer
	Reader
	Health(ctx context.Context) error
}

// Counts reports table sizes
type Counts struct {
	Stations int64 `json:"stations"`
	Prices   int64 `json:"prices"`
	History  int64 `json:"history"`
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	Health(ctx context.Context) error
	IsConfigured() bool
}

// New creates a new store instance
func New(db Database) Store {
	if db.IsConfigured() {
		return NewPostgresStore(db)
	}
	// Fallback to in-memory store if no database
	return NewInMemoryStore()
}
