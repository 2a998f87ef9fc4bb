package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rajasatyajit/FuelWatch/config"
	"github.com/rajasatyajit/FuelWatch/internal/analytics"
	"github.com/rajasatyajit/FuelWatch/internal/api"
	"github.com/rajasatyajit/FuelWatch/internal/database"
	"github.com/rajasatyajit/FuelWatch/internal/feed"
	"github.com/rajasatyajit/FuelWatch/internal/geo"
	"github.com/rajasatyajit/FuelWatch/internal/ingest"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	"github.com/rajasatyajit/FuelWatch/internal/metrics"
	middlewares "github.com/rajasatyajit/FuelWatch/internal/middleware"
	"github.com/rajasatyajit/FuelWatch/internal/runlock"
	"github.com/rajasatyajit/FuelWatch/internal/scheduler"
	"github.com/rajasatyajit/FuelWatch/internal/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const usage = `usage: fuelwatch [serve]
       fuelwatch backfill [-years 2024,2025]`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting FuelWatch",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "backfill":
		err = backfill(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Command failed", "command", cmd, "error", err)
	}
}

// app holds the components shared by every command
type app struct {
	db       *database.DB
	store    store.Store
	guard    *runlock.Guard
	importer *ingest.Importer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	policy, err := ingest.ParseFailurePolicy(cfg.Ingest.FailurePolicy)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	guard := runlock.New()
	if cfg.Redis.URL != "" {
		if guard, err = runlock.NewRedis(cfg.Redis.URL, cfg.Ingest.LockTTL); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("initialize run lock: %w", err)
		}
		logger.Info("Distributed run lock enabled")
	}

	st := store.New(db)
	importer := ingest.NewImporter(feed.NewFetcher(cfg.Feed), st, guard, cfg.Feed.Location(), ingest.Config{
		StationBatchSize: cfg.Ingest.StationBatchSize,
		PriceBatchSize:   cfg.Ingest.PriceBatchSize,
		ArchiveBatchSize: cfg.Ingest.ArchiveBatchSize,
		FailurePolicy:    policy,
	})

	return &app{db: db, store: st, guard: guard, importer: importer}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.guard.Close(); err != nil {
		logger.Warn("Failed to close run lock", "error", err)
	}
	a.db.Close(ctx)
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	sched, err := scheduler.New(a.importer, cfg.Ingest)
	if err != nil {
		return err
	}
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	r := newRouter(cfg, api.Dependencies{
		Stations: geo.NewService(a.store),
		Analysis: analytics.NewService(a.store),
		Status:   a.importer,
		Trigger:  sched,
		Health:   a.store,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("Ingestion did not stop before the shutdown deadline")
	}

	logger.Info("Server exited")
	return nil
}

func newRouter(cfg *config.Config, deps api.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middlewares.Security)
	r.Use(middlewares.CORS(cfg.Server.CORSAllowedOrigins))
	r.Use(middlewares.RateLimit(cfg.Server.RateLimitRPM))

	api.NewHandler(deps, cfg.Admin.AdminSecret, Version, BuildTime, GitCommit).RegisterRoutes(r)
	return r
}

func backfill(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	yearsFlag := fs.String("years", "", "comma-separated archive years (default: current and previous years)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	years, err := parseYears(*yearsFlag, time.Now(), cfg.Ingest.BackfillYearsBack)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	logger.Info("Starting archive backfill", "years", years)
	reports, err := a.importer.ImportYears(ctx, years)
	for _, r := range reports {
		logger.Info("Archive imported",
			"feed", r.Feed,
			"status", r.Status,
			"stations", r.Stations,
			"history_written", r.HistoryWritten,
			"rows_lost", r.RowsLost,
		)
	}
	return err
}

// parseYears reads a comma-separated year list. An empty list means the
// current year and the yearsBack years before it. Years come back sorted and
// unique.
func parseYears(s string, now time.Time, yearsBack int) ([]int, error) {
	seen := make(map[int]bool)
	var years []int
	add := func(y int) {
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}

	if strings.TrimSpace(s) == "" {
		for y := now.Year() - yearsBack; y <= now.Year(); y++ {
			add(y)
		}
		return years, nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil || y < 2007 || y > now.Year() {
			return nil, fmt.Errorf("invalid archive year %q", part)
		}
		add(y)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no archive years given")
	}
	sort.Ints(years)
	return years, nil
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
