package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/ve-energy/scrapers/pkg/config"
	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/pool"
	"github.com/ve-energy/scrapers/pkg/scraper"
	"github.com/ve-energy/scrapers/pkg/storage"
	"github.com/ve-energy/scrapers/pkg/uploader"
)

func main() {
	// .env only matters for local runs; in deployment the environment is real
	_ = godotenv.Load()

	// init packages
	configPath := lflag.String("config", "config.json", "Path to the scrapers config file")
	lookBackStr := lflag.String("scrape-lookback", "6h", "How far into the past each scrape window reaches")
	lookAheadStr := lflag.String("scrape-lookahead", "36h", "How far into the future each scrape window reaches")

	dirty := storage.NewPartitionSet()
	s := storage.Configured(dirty)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	lookBack, err := time.ParseDuration(*lookBackStr)
	if err != nil {
		fatal(ctx, "invalid scrape-lookback", err)
	}
	lookAhead, err := time.ParseDuration(*lookAheadStr)
	if err != nil {
		fatal(ctx, "invalid scrape-lookahead", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(ctx, "failed to load config", err)
	}

	var wg sync.WaitGroup

	if cfg.S3Bucket != "" {
		up, err := uploader.New(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.S3Prefix, s, dirty)
		if err != nil {
			fatal(ctx, "failed to init uploader", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			up.Run(ctx)
		}()
	}

	if cfg.RetentionDays > 0 {
		sched := gocron.NewScheduler(time.UTC)
		_, err := sched.Every(1).Day().Do(func() {
			log.Ctx(ctx).InfoContext(ctx, "running retention cleanup", slog.Int("retentionDays", cfg.RetentionDays))
			if err := s.Cleanup(ctx, cfg.RetentionDays); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "cleanup failed", slog.Any("error", err))
			}
		})
		if err != nil {
			fatal(ctx, "failed to schedule cleanup", err)
		}
		sched.StartAsync()
		defer sched.Stop()
	}

	started := 0
	for _, entry := range cfg.Scrapers {
		sc, err := scraper.New(entry.ScraperConfig, nil)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to start scraper pool",
				slog.String("scraper", entry.Name), slog.Any("error", err))
			continue
		}
		p := pool.New(sc, s, pool.Options{
			LookBack:  lookBack,
			LookAhead: lookAhead,
			SaveAs:    entry.StorageName(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		started++
	}
	if started == 0 {
		fatal(ctx, "no scraper pools started", nil)
	}

	<-ctx.Done()
	log.Ctx(ctx).InfoContext(ctx, "shutting down")
	wg.Wait()
}

func fatal(ctx context.Context, msg string, err error) {
	log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	os.Exit(1)
}
