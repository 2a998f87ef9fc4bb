package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v5"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// DefaultLimit caps every nearest-stations answer
const DefaultLimit = 50

const (
	upsertStationSQL = `
		INSERT INTO fuel_stations (id, location, address, city, cp)
		VALUES ($1, ST_GeomFromEWKB($2), $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			location = EXCLUDED.location,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			cp = EXCLUDED.cp
	`

	upsertPriceSQL = `
		INSERT INTO prices (station_id, fuel_type, price, update_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_price_station_fuel DO UPDATE SET
			price = EXCLUDED.price,
			update_date = EXCLUDED.update_date
	`

	insertHistorySQL = `
		INSERT INTO price_history (station_id, fuel_type, price, update_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_price_history_entry DO NOTHING
	`

	// $1 lat, $2 lon, $3 radius in metres
	centerSQL = `ST_SetSRID(ST_MakePoint($2, $1), 4326)`

	// The geography test only narrows candidates through the index. The
	// sphere distance decides containment and is the distance reported.
	withinSQL = `ST_DWithin(s.location::geography, ` + centerSQL + `::geography, $3::float8 * 1.0001, false)
			AND ST_DistanceSphere(s.location, ` + centerSQL + `) <= $3::float8`
)

// PostgresStore implements Store using PostgreSQL with PostGIS
type PostgresStore struct {
	db Database
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db Database) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertStations writes one station batch in a single transaction
func (s *PostgresStore) UpsertStations(ctx context.Context, stations []models.Station) error {
	if len(stations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, st := range stations {
		loc, err := encodePoint(st.Location)
		if err != nil {
			return fmt.Errorf("station %s: %w", st.ID, err)
		}
		batch.Queue(upsertStationSQL, st.ID, loc, st.Address, st.City, st.PostalCode)
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return apperrors.DatabaseError{Operation: "upsert stations", Err: err}
	}
	return nil
}

// UpsertPrices overwrites current prices and appends the matching history
// rows in the same transaction
func (s *PostgresStore) UpsertPrices(ctx context.Context, prices []models.Price) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(upsertPriceSQL, p.StationID, string(p.FuelType), p.Price, p.UpdatedAt.UTC())
	}
	for _, p := range prices {
		batch.Queue(insertHistorySQL, p.StationID, string(p.FuelType), p.Price, p.UpdatedAt.UTC())
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return apperrors.DatabaseError{Operation: "upsert prices", Err: err}
	}
	return nil
}

// InsertHistory appends history rows; rows already present are skipped
func (s *PostgresStore) InsertHistory(ctx context.Context, entries []models.Price) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertHistorySQL, e.StationID, string(e.FuelType), e.Price, e.UpdatedAt.UTC())
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return apperrors.DatabaseError{Operation: "insert history", Err: err}
	}
	return nil
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		res := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := res.Exec(); err != nil {
				res.Close()
				return err
			}
		}
		return res.Close()
	})
}

// CurrentPrices loads every current price row
func (s *PostgresStore) CurrentPrices(ctx context.Context) ([]models.Price, error) {
	rows, err := s.db.Query(ctx, `SELECT station_id, fuel_type, price, update_date FROM prices`)
	if err != nil {
		return nil, fmt.Errorf("query current prices: %w", err)
	}
	defer rows.Close()

	var prices []models.Price
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}

	return prices, rows.Err()
}

// CurrentPrice returns the current price of one pair or ErrNotFound
func (s *PostgresStore) CurrentPrice(ctx context.Context, stationID string, fuel models.FuelType) (*models.Price, error) {
	row := s.db.QueryRow(ctx, `
		SELECT station_id, fuel_type, price, update_date
		FROM prices
		WHERE station_id = $1 AND fuel_type = $2
	`, stationID, string(fuel))

	p, err := scanPrice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan price: %w", err)
	}

	return &p, nil
}

// PriceHistory returns the samples of one pair at or after since, oldest first
func (s *PostgresStore) PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, since time.Time) ([]models.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT update_date, price
		FROM price_history
		WHERE station_id = $1 AND fuel_type = $2 AND update_date >= $3
		ORDER BY update_date ASC
	`, stationID, string(fuel), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var pt models.PricePoint
		if err := rows.Scan(&pt.Date, &pt.Price); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		pt.Date = pt.Date.UTC()
		points = append(points, pt)
	}

	return points, rows.Err()
}

// NearestStations finds stations within q.RadiusKm of the center. With a fuel
// filter the cheapest come first; otherwise the closest come first.
func (s *PostgresStore) NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	radius := q.RadiusKm * 1000

	if q.Fuel != nil {
		return s.nearestWithFuel(ctx, q, *q.Fuel, radius, limit)
	}

	rows, err := s.db.Query(ctx, `
		SELECT s.id, COALESCE(s.address, ''), COALESCE(s.city, ''), COALESCE(s.cp, ''),
			ST_AsEWKB(s.location), ST_DistanceSphere(s.location, `+centerSQL+`) AS distance
		FROM fuel_stations s
		WHERE s.location IS NOT NULL
			AND `+withinSQL+`
		ORDER BY distance ASC, s.id
		LIMIT $4
	`, q.Lat, q.Lon, radius, limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest stations: %w", err)
	}

	var results []models.StationResult
	index := map[string]int{}
	for rows.Next() {
		var res models.StationResult
		var loc []byte
		if err := rows.Scan(&res.ID, &res.Address, &res.City, &res.PostalCode, &loc, &res.Distance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan station: %w", err)
		}
		if err := setCoords(&res, loc); err != nil {
			rows.Close()
			return nil, err
		}
		res.Prices = []models.PriceInfo{}
		index[res.ID] = len(results)
		results = append(results, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query nearest stations: %w", err)
	}
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	priceRows, err := s.db.Query(ctx, `
		SELECT station_id, fuel_type, price, update_date
		FROM prices
		WHERE station_id = ANY($1)
		ORDER BY station_id, fuel_type
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query station prices: %w", err)
	}
	defer priceRows.Close()

	for priceRows.Next() {
		p, err := scanPrice(priceRows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		i := index[p.StationID]
		results[i].Prices = append(results[i].Prices, models.PriceInfo{
			FuelType:   p.FuelType,
			Price:      p.Price,
			UpdateDate: p.UpdatedAt,
		})
	}

	return results, priceRows.Err()
}

func (s *PostgresStore) nearestWithFuel(ctx context.Context, q models.NearestQuery, fuel models.FuelType, radius float64, limit int) ([]models.StationResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id, COALESCE(s.address, ''), COALESCE(s.city, ''), COALESCE(s.cp, ''),
			ST_AsEWKB(s.location), ST_DistanceSphere(s.location, `+centerSQL+`) AS distance,
			p.fuel_type, p.price, p.update_date
		FROM fuel_stations s
		JOIN prices p ON p.station_id = s.id
		WHERE p.fuel_type = $5
			AND s.location IS NOT NULL
			AND `+withinSQL+`
		ORDER BY p.price ASC, distance ASC, s.id
		LIMIT $4
	`, q.Lat, q.Lon, radius, limit, string(fuel))
	if err != nil {
		return nil, fmt.Errorf("query nearest stations: %w", err)
	}
	defer rows.Close()

	results := []models.StationResult{}
	for rows.Next() {
		var res models.StationResult
		var loc []byte
		var fuelType string
		var info models.PriceInfo
		if err := rows.Scan(&res.ID, &res.Address, &res.City, &res.PostalCode, &loc, &res.Distance,
			&fuelType, &info.Price, &info.UpdateDate); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		if err := setCoords(&res, loc); err != nil {
			return nil, err
		}
		info.FuelType = models.FuelType(fuelType)
		info.UpdateDate = info.UpdateDate.UTC()
		res.Prices = []models.PriceInfo{info}
		results = append(results, res)
	}

	return results, rows.Err()
}

// Counts reports the size of each table
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM fuel_stations),
			(SELECT count(*) FROM prices),
			(SELECT count(*) FROM price_history)
	`).Scan(&c.Stations, &c.Prices, &c.History)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

// Health checks the database connection
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

func scanPrice(row pgx.Row) (models.Price, error) {
	var p models.Price
	var fuel string
	if err := row.Scan(&p.StationID, &fuel, &p.Price, &p.UpdatedAt); err != nil {
		return models.Price{}, err
	}
	p.FuelType = models.FuelType(fuel)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func setCoords(res *models.StationResult, loc []byte) error {
	pt, err := decodePoint(loc)
	if err != nil {
		return fmt.Errorf("station %s: %w", res.ID, err)
	}
	if pt != nil {
		res.Latitude = pt.Lat
		res.Longitude = pt.Lon
	}
	return nil
}
