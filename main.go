package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lot_harvester/api"
	"lot_harvester/config"
	"lot_harvester/logging"
	"lot_harvester/models"
	"lot_harvester/scheduler"
	"lot_harvester/scraper"
	"lot_harvester/services"
	"lot_harvester/storage"
)

var (
	parseNow = flag.Bool("parse", false, "Run one parsing pass and exit")
	command  = flag.String("command", "", "Queue a command for the running daemon (parse_now, pause, resume) and exit")
)

// Store is everything the daemon needs from a backend
type Store interface {
	services.CatalogStore
	services.RunStore
	scheduler.CommandQueue
	EnqueueCommand(ctx context.Context, cmd models.CommandType) (int64, error)
	Close() error
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	log.Printf("Starting lot_harvester for %s (%s)", cfg.Site.Name, cfg.Site.ListingURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if *command != "" {
		id, err := store.EnqueueCommand(ctx, models.CommandType(*command))
		if err != nil {
			log.Fatalf("Failed to queue command: %v", err)
		}
		log.Printf("Queued command %s (id %d)", *command, id)
		return
	}

	fetcher := scraper.NewFetcher(cfg)
	if bf, ok := fetcher.(*scraper.BrowserFetcher); ok {
		defer bf.Close()
	}
	extractor, err := scraper.NewExtractor(&cfg.Site)
	if err != nil {
		log.Fatalf("Invalid selectors: %v", err)
	}
	crawler := scraper.NewCrawler(fetcher, extractor, cfg.Site.ListingURL)

	svc := services.NewCatalogService(store, store, crawler, cfg.Delay())
	if cfg.Export.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Export)
		if err != nil {
			log.Fatalf("Failed to set up export: %v", err)
		}
		svc.SetExporter(services.NewExportService(store, uploader))
		log.Printf("Catalog export enabled: %s", storage.ObjectURL(cfg.Export, "exports/"))
	}

	if *parseNow {
		runOnce(ctx, svc)
		return
	}

	sched := scheduler.New(cfg.Scheduler, svc, store)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	// cancels an in-flight crawl; its partial snapshot is discarded
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DBURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DBURL))
		return pg, nil
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	sq, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return sq, nil
}

func runOnce(ctx context.Context, svc *services.CatalogService) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Running parse...")
	res, err := svc.RunParsing(ctx)
	if err != nil {
		log.Fatalf("Parse failed: %v", err)
	}
	if !res.Success {
		log.Fatalf("Parse failed: %v", res.Errors)
	}
	log.Printf("Parse complete: %d parsed, %d new, %d updated, %d deactivated, %d skipped",
		res.Parsed, res.New, res.Updated, res.Deactivated, res.Skipped)
}

// maskConnectionString hides the password of a database URL
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); !ok {
		return connStr
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
