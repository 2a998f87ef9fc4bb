//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rajasatyajit/FuelWatch/config"
	"github.com/rajasatyajit/FuelWatch/internal/database"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/feed"
	"github.com/rajasatyajit/FuelWatch/internal/ingest"
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/rajasatyajit/FuelWatch/internal/runlock"
	"github.com/rajasatyajit/FuelWatch/internal/store"
)

func startPostGIS(t *testing.T, ctx context.Context) *database.DB {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgis/postgis:16-3.4",
		Env:          map[string]string{"POSTGRES_DB": "fuelwatch", "POSTGRES_USER": "fuelwatch", "POSTGRES_PASSWORD": "password"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(2 * time.Minute),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, _ := pg.Host(ctx)
	port, _ := pg.MappedPort(ctx, "5432")
	dsn := "postgres://fuelwatch:password@" + host + ":" + port.Port() + "/fuelwatch?sslmode=disable"

	db, err := database.New(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 5, MinConns: 1, MaxConnLifetime: time.Hour, MaxConnIdleTime: 30 * time.Minute})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })

	if err := db.Exec(ctx, string(repoFile(t, "scripts/init.sql"))); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}
	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	host, _ := rc.Host(ctx)
	port, _ := rc.MappedPort(ctx, "6379")
	return "redis://" + host + ":" + port.Port() + "/0"
}

func TestPostgresStore_SnapshotIngestion(t *testing.T) {
	if !containersAvailable() {
		t.Skip("container runtime not available; skipping container-based integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := startPostGIS(t, ctx)
	st := store.New(db)
	if _, ok := st.(*store.PostgresStore); !ok {
		t.Fatalf("expected a postgres store, got %T", st)
	}

	at := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
	stations := lyonStations(40, at, 1.70)
	feeds := &feedServer{archives: map[string][]byte{}, hits: map[string]int{}}
	feeds.set("/instantane", zipFeed(t, "PrixCarburants_instantane.xml", feedDocument(stations)))
	srv := httptest.NewServer(feeds)
	defer srv.Close()

	guard, err := runlock.NewRedis(startRedis(t, ctx), time.Minute)
	if err != nil {
		t.Fatalf("redis guard: %v", err)
	}
	fetcher := feed.NewFetcher(config.FeedConfig{BaseURL: srv.URL, Timeout: 10 * time.Second, RateLimit: 10})
	importer := ingest.NewImporter(fetcher, st, guard, time.UTC, ingest.Config{
		StationBatchSize: 16,
		PriceBatchSize:   25,
		FailurePolicy:    ingest.PolicyAbort,
	})

	first, err := importer.ImportSnapshot(ctx)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Changed != 60 || first.PricesWritten != 60 {
		t.Fatalf("unexpected first report %+v", first)
	}
	counts, err := st.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts != (store.Counts{Stations: 40, Prices: 60, History: 60}) {
		t.Fatalf("unexpected counts %+v", counts)
	}

	second, err := importer.ImportSnapshot(ctx)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Changed != 0 || second.Unchanged != 60 {
		t.Errorf("rerun must not write, got %+v", second)
	}
	if again, _ := st.Counts(ctx); again != counts {
		t.Errorf("rerun changed counts %+v -> %+v", counts, again)
	}

	// Same station, same fuel, later timestamp
	stations[5].Prices[0] = feedPrice{Fuel: "Gazole", Value: "1.600", At: at.Add(time.Hour)}
	feeds.set("/instantane", zipFeed(t, "PrixCarburants_instantane.xml", feedDocument(stations)))
	if _, err := importer.ImportSnapshot(ctx); err != nil {
		t.Fatalf("third import: %v", err)
	}

	cur, err := st.CurrentPrice(ctx, stations[5].ID, models.FuelGazole)
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if cur.Price != 1.6 || !cur.UpdatedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("unexpected current price %+v", cur)
	}
	points, err := st.PriceHistory(ctx, stations[5].ID, models.FuelGazole, at.Add(-time.Minute))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 || points[0].Price != 1.75 || points[1].Price != 1.6 {
		t.Errorf("unexpected history %+v", points)
	}
	if _, err := st.CurrentPrice(ctx, "00000000", models.FuelGazole); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown station, got %v", err)
	}

	gazole := models.FuelGazole
	cheapest, err := st.NearestStations(ctx, models.NearestQuery{Lat: 45.76, Lon: 4.83, RadiusKm: 2, Fuel: &gazole, Limit: 5})
	if err != nil {
		t.Fatalf("nearest with fuel: %v", err)
	}
	if len(cheapest) != 5 || cheapest[0].ID != stations[5].ID {
		t.Fatalf("expected the repriced station first, got %+v", cheapest)
	}
	for i := 1; i < len(cheapest); i++ {
		if cheapest[i].Prices[0].Price < cheapest[i-1].Prices[0].Price {
			t.Errorf("results not ordered by price: %+v", cheapest)
		}
	}

	closest, err := st.NearestStations(ctx, models.NearestQuery{Lat: 45.76, Lon: 4.83, RadiusKm: 1})
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	// 0.002 degrees of latitude is roughly 222 m
	if len(closest) != 5 {
		t.Fatalf("expected 5 stations within 1 km, got %d", len(closest))
	}
	for i, res := range closest {
		if res.ID != stations[i].ID {
			t.Errorf("position %d: got %s want %s", i, res.ID, stations[i].ID)
		}
		if res.Distance > 1000 {
			t.Errorf("%s outside radius: %.1f m", res.ID, res.Distance)
		}
	}
	if len(closest[0].Prices) != 2 || len(closest[1].Prices) != 1 {
		t.Errorf("expected all current prices attached, got %+v / %+v", closest[0].Prices, closest[1].Prices)
	}
}

func TestPostgresStore_YearlyBackfill(t *testing.T) {
	if !containersAvailable() {
		t.Skip("container runtime not available; skipping container-based integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st := store.New(startPostGIS(t, ctx))

	var stations []feedStation
	for i := 0; i < 3; i++ {
		day := time.Date(2024, 3, 1+i, 9, 30, 0, 0, time.UTC)
		stations = append(stations, lyonStations(10, day, 1.80+float64(i)/100)...)
	}
	feeds := &feedServer{archives: map[string][]byte{}, hits: map[string]int{}}
	feeds.set("/annee/2024", zipFeed(t, "PrixCarburants_annuel_2024.xml", feedDocument(stations)))
	srv := httptest.NewServer(feeds)
	defer srv.Close()

	fetcher := feed.NewFetcher(config.FeedConfig{BaseURL: srv.URL, Timeout: 10 * time.Second, RateLimit: 10})
	importer := ingest.NewImporter(fetcher, st, nil, time.UTC, ingest.Config{
		StationBatchSize: 4,
		PriceBatchSize:   4,
		ArchiveBatchSize: 7,
		FailurePolicy:    ingest.PolicyAbort,
	})

	for i := 0; i < 2; i++ {
		if _, err := importer.ImportYears(ctx, []int{2024}); err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
		c, _ := st.Counts(ctx)
		if c != (store.Counts{Stations: 10, Prices: 0, History: 45}) {
			t.Fatalf("import %d: unexpected counts %+v", i, c)
		}
	}

	points, err := st.PriceHistory(ctx, stations[0].ID, models.FuelGazole, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 3 || !points[0].Date.Before(points[2].Date) {
		t.Errorf("expected 3 ascending points, got %+v", points)
	}
}
