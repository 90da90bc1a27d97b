package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msoto/lettings-pipeline/config"
	"github.com/msoto/lettings-pipeline/models"
	"github.com/msoto/lettings-pipeline/pipeline"
	"github.com/msoto/lettings-pipeline/scraper"
	"github.com/msoto/lettings-pipeline/store"
)

func main() {
	// A missing .env file is fine; system env vars still apply.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	maxPriceDefault := defaultCfg.MaxPrice
	if value, ok, err := config.EnvInt("PIPELINE_MAX_PRICE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid PIPELINE_MAX_PRICE: %v\n", err)
		os.Exit(1)
	} else if ok {
		maxPriceDefault = value
	}
	minBedroomsDefault := defaultCfg.MinBedrooms
	if value, ok, err := config.EnvInt("PIPELINE_MIN_BEDROOMS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid PIPELINE_MIN_BEDROOMS: %v\n", err)
		os.Exit(1)
	} else if ok {
		minBedroomsDefault = value
	}
	dsnDefault, _ := config.EnvString("DATABASE_DSN")
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("PIPELINE_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	locationsDefault := "locations.yaml"
	if value, ok := config.EnvString("PIPELINE_LOCATIONS"); ok {
		locationsDefault = value
	}

	stage := flag.String("stage", "all", "Stage to run: discover, details, reconcile, or all")
	locationsPath := flag.String("locations", locationsDefault, "Path to the locations YAML file")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Base URL of the listings site")
	maxPrice := flag.Int("max-price", maxPriceDefault, "Maximum monthly rent forwarded to the search query")
	minBedrooms := flag.Int("min-bedrooms", minBedroomsDefault, "Minimum bedrooms forwarded to the search query")
	months := flag.String("months", joinInts(defaultCfg.AvailabilityMonths), "Accepted availability months, comma separated")
	pageSize := flag.Int("page-size", defaultCfg.PageSize, "Search pagination increment")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per page or listing")
	retryBackoffMs := flag.Int("retry-backoff", 200, "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", 2000, "Maximum retry backoff (milliseconds)")
	dsn := flag.String("dsn", dsnDefault, "Warehouse connection string")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	dryRun := flag.Bool("dry-run", false, "Use an in-memory warehouse instead of Postgres")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	availabilityMonths, err := parseMonths(*months)
	if err != nil {
		slog.Error("invalid -months", slog.Any("error", err))
		os.Exit(1)
	}
	locations, err := config.LoadLocations(*locationsPath)
	if err != nil {
		slog.Error("loading locations", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.Locations = locations
	cfg.MaxPrice = *maxPrice
	cfg.MinBedrooms = *minBedrooms
	cfg.AvailabilityMonths = availabilityMonths
	cfg.PageSize = *pageSize
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.DatabaseDSN = *dsn
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var warehouse store.Warehouse
	if *dryRun {
		warehouse = store.NewMemory()
		slog.Info("dry run: using in-memory warehouse")
	} else {
		if cfg.DatabaseDSN == "" {
			slog.Error("no warehouse DSN configured (set DATABASE_DSN or -dsn, or pass -dry-run)")
			os.Exit(1)
		}
		pg, err := store.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			slog.Error("connecting warehouse", slog.Any("error", err))
			os.Exit(1)
		}
		warehouse = pg
	}
	defer func() {
		if err := warehouse.Close(); err != nil {
			slog.Error("close warehouse", slog.Any("error", err))
		}
	}()

	metrics := scraper.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: router}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	startTime := time.Now()
	reports, err := runStages(ctx, *stage, cfg, warehouse, metrics)
	if err != nil {
		slog.Error("pipeline run failed", slog.String("stage", *stage), slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(reports, time.Since(startTime))
}

func runStages(ctx context.Context, stage string, cfg *config.Config, warehouse store.Warehouse, metrics *scraper.Metrics) ([]*models.StageReport, error) {
	var reports []*models.StageReport

	run := func(name string, fn func(context.Context) (*models.StageReport, error)) error {
		slog.Info("stage starting", slog.String("stage", name))
		report, err := fn(ctx)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
		return nil
	}

	wantDiscover := stage == "all" || stage == "discover"
	wantDetails := stage == "all" || stage == "details"
	wantReconcile := stage == "all" || stage == "reconcile"
	if !wantDiscover && !wantDetails && !wantReconcile {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	if wantDiscover {
		discoverer, err := scraper.NewDiscoverer(cfg, warehouse, metrics)
		if err != nil {
			return reports, fmt.Errorf("initialising discovery: %w", err)
		}
		if err := run("discover", discoverer.Run); err != nil {
			return reports, err
		}
	}
	if wantDetails {
		fetcher := scraper.NewDetailFetcher(cfg, warehouse, warehouse, metrics)
		if err := run("details", fetcher.Run); err != nil {
			return reports, err
		}
	}
	if wantReconcile {
		reconciler := pipeline.NewReconciler(warehouse, warehouse)
		if err := run("reconcile", reconciler.Run); err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func printSummary(reports []*models.StageReport, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Pipeline run complete")
	for _, r := range reports {
		fmt.Printf("  [%s]\n", r.Stage)
		fmt.Printf("    Accepted:  %d\n", r.Accepted)
		fmt.Printf("    Requests:  %d\n", r.RequestCount)
		fmt.Printf("    Retries:   %d\n", r.RetryCount)
		fmt.Printf("    Errors:    %d\n", r.ErrorCount)
		if len(r.Rejected) > 0 {
			fmt.Printf("    Rejected:  %v\n", r.Rejected)
		}
		if len(r.ErrorsByType) > 0 {
			fmt.Printf("    By type:   %v\n", r.ErrorsByType)
		}
	}
	fmt.Printf("  Duration:  %v\n", duration)
	fmt.Println(separator)
}

func parseMonths(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	months := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("month %q is not an integer: %w", p, err)
		}
		months = append(months, m)
	}
	if len(months) == 0 {
		return nil, fmt.Errorf("no months given")
	}
	return months, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
