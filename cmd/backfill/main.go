// Command backfill fetches a historical window for one configured scraper
// and saves it through the normal storage path. Useful after adding a new
// scraper or recovering from an outage.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"github.com/ve-energy/scrapers/pkg/config"
	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/scraper"
	"github.com/ve-energy/scrapers/pkg/storage"
)

func main() {
	_ = godotenv.Load()

	configPath := lflag.String("config", "config.json", "Path to the scrapers config file")
	name := lflag.String("scraper", "", "Name of the scraper to backfill")
	startStr := lflag.String("start", "", "Window start, RFC3339")
	endStr := lflag.String("end", "", "Window end (exclusive), RFC3339")

	db := storage.Configured(storage.NewPartitionSet())
	lflag.Configure()

	ctx := context.Background()
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		fatal(ctx, "invalid -start", err)
	}
	end, err := time.Parse(time.RFC3339, *endStr)
	if err != nil {
		fatal(ctx, "invalid -end", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(ctx, "failed to load config", err)
	}

	var entry *config.ScraperEntry
	for i := range cfg.Scrapers {
		if cfg.Scrapers[i].Name == *name {
			entry = &cfg.Scrapers[i]
			break
		}
	}
	if entry == nil {
		fatal(ctx, fmt.Sprintf("no scraper named %q in config", *name), nil)
	}

	sc, err := scraper.New(entry.ScraperConfig, nil)
	if err != nil {
		fatal(ctx, "failed to construct scraper", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "backfilling",
		slog.String("scraper", entry.Name), slog.Time("start", start), slog.Time("end", end))

	data, err := sc.ScrapeData(ctx, start, end)
	if err != nil {
		fatal(ctx, "scrape failed", err)
	}

	saved, err := db.SaveIfNew(ctx, entry.StorageName(), data)
	if err != nil {
		fatal(ctx, "failed to save data", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "backfill finished",
		slog.Int("intervals", len(data)), slog.Bool("savedNew", saved))
}

func fatal(ctx context.Context, msg string, err error) {
	log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	os.Exit(1)
}
