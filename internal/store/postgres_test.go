package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

type mockDB struct {
	ExecFn     func(ctx context.Context, sql string, args ...any) error
	QueryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	InTxFn     func(ctx context.Context, fn func(pgx.Tx) error) error
	HealthFn   func(ctx context.Context) error
	txCalls    int
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) error {
	if m.ExecFn != nil {
		return m.ExecFn(ctx, sql, args...)
	}
	return nil
}
func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.QueryFn != nil {
		return m.QueryFn(ctx, sql, args...)
	}
	return nil, errors.New("no query")
}
func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.QueryRowFn != nil {
		return m.QueryRowFn(ctx, sql, args...)
	}
	return fakeRow{err: pgx.ErrNoRows}
}
func (m *mockDB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	m.txCalls++
	if m.InTxFn != nil {
		return m.InTxFn(ctx, fn)
	}
	return nil
}
func (m *mockDB) Health(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return nil
}
func (m *mockDB) IsConfigured() bool { return true }

type fakeRow struct {
	err    error
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *float64:
			*p = r.values[i].(float64)
		case *int64:
			*p = r.values[i].(int64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestPostgresStore_EmptyBatchesSkipTransaction(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if err := s.UpsertStations(ctx, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := s.UpsertPrices(ctx, []models.Price{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := s.InsertHistory(ctx, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if db.txCalls != 0 {
		t.Errorf("expected no transactions, got %d", db.txCalls)
	}
}

func TestPostgresStore_BatchFailureIsDatabaseError(t *testing.T) {
	boom := errors.New("constraint violation")
	db := &mockDB{InTxFn: func(ctx context.Context, fn func(pgx.Tx) error) error { return boom }}
	s := NewPostgresStore(db)

	err := s.UpsertStations(context.Background(), []models.Station{{ID: "1", Location: &models.Point{Lat: 1, Lon: 2}}})
	var dbErr apperrors.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if dbErr.Operation != "upsert stations" || !errors.Is(err, boom) {
		t.Errorf("unexpected error %v", err)
	}

	err = s.InsertHistory(context.Background(), []models.Price{{StationID: "1", FuelType: models.FuelE10, Price: 1, UpdatedAt: time.Now()}})
	if !errors.Is(err, boom) || db.txCalls != 2 {
		t.Errorf("expected one transaction per batch, got %d calls, err %v", db.txCalls, err)
	}
}

func TestPostgresStore_CurrentPrice(t *testing.T) {
	at := time.Date(2024, 1, 2, 8, 15, 0, 0, time.UTC)
	var gotArgs []any
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
		gotArgs = args
		if !strings.Contains(sql, "FROM prices") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		return fakeRow{values: []any{"1000001", "Gazole", 1.789, at}}
	}}
	s := NewPostgresStore(db)

	p, err := s.CurrentPrice(context.Background(), "1000001", models.FuelGazole)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.FuelType != models.FuelGazole || p.Price != 1.789 || !p.UpdatedAt.Equal(at) {
		t.Errorf("unexpected price %+v", p)
	}
	if gotArgs[1] != "Gazole" {
		t.Errorf("expected fuel passed as plain string, got %T", gotArgs[1])
	}
}

func TestPostgresStore_CurrentPrice_NoRows(t *testing.T) {
	s := NewPostgresStore(&mockDB{})
	res, err := s.CurrentPrice(context.Background(), "missing", models.FuelE10)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil, got %+v", res)
	}
}

func TestPostgresStore_QueryErrorsAreWrapped(t *testing.T) {
	db := &mockDB{QueryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return nil, errors.New("db error")
	}}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := s.CurrentPrices(ctx); err == nil || !strings.Contains(err.Error(), "query current prices") {
		t.Errorf("wrap missing: %v", err)
	}
	if _, err := s.PriceHistory(ctx, "1", models.FuelE10, time.Now()); err == nil || !strings.Contains(err.Error(), "query price history") {
		t.Errorf("wrap missing: %v", err)
	}
	fuel := models.FuelE10
	if _, err := s.NearestStations(ctx, models.NearestQuery{Lat: 1, Lon: 1, RadiusKm: 1, Fuel: &fuel}); err == nil || !strings.Contains(err.Error(), "query nearest stations") {
		t.Errorf("wrap missing: %v", err)
	}
}

func TestPostgresStore_NearestStations_RadiusInMetres(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	db := &mockDB{QueryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL, gotArgs = sql, args
		return nil, errors.New("stop")
	}}
	s := NewPostgresStore(db)

	_, _ = s.NearestStations(context.Background(), models.NearestQuery{Lat: 48.85, Lon: 2.35, RadiusKm: 2.5, Limit: 500})
	if !strings.Contains(gotSQL, "ST_DWithin") || !strings.Contains(gotSQL, "ORDER BY distance ASC") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	// containment is decided by the same expression as the reported distance
	if !strings.Contains(gotSQL, "ST_DistanceSphere(s.location, "+centerSQL+") <= $3::float8") {
		t.Errorf("radius filter must use the reported sphere distance: %s", gotSQL)
	}
	if gotArgs[2] != 2500.0 {
		t.Errorf("expected radius 2500 m, got %v", gotArgs[2])
	}
	if gotArgs[3] != DefaultLimit {
		t.Errorf("expected limit capped at %d, got %v", DefaultLimit, gotArgs[3])
	}
}

func TestPostgresStore_NearestWithFuel_FiltersOnSphereDistance(t *testing.T) {
	var gotSQL string
	db := &mockDB{QueryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL = sql
		return nil, errors.New("stop")
	}}
	fuel := models.FuelE10
	_, _ = NewPostgresStore(db).NearestStations(context.Background(), models.NearestQuery{Lat: 48.85, Lon: 2.35, RadiusKm: 5, Fuel: &fuel})
	if !strings.Contains(gotSQL, "ST_DistanceSphere(s.location, "+centerSQL+") <= $3::float8") || !strings.Contains(gotSQL, "ORDER BY p.price ASC") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
}

func TestPostgresStore_Counts(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeRow{values: []any{int64(3), int64(5), int64(8)}}
	}}
	c, err := NewPostgresStore(db).Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c != (Counts{Stations: 3, Prices: 5, History: 8}) {
		t.Errorf("unexpected counts %+v", c)
	}
}
