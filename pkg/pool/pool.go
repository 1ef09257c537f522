// Package pool runs the scrape worker pools. One pool per configured
// scraper: a task generator paces work onto a channel and a fixed number of
// workers drain it, each scraping a sliding window around "now" and handing
// non-empty results to storage. The scraper's workers and
// task_generator_delay_ms settings are consumed here, never by the providers
// themselves.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/scraper"
	"github.com/ve-energy/scrapers/pkg/storage"
	"github.com/ve-energy/scrapers/pkg/types"
)

// Options tune the scrape window a pool requests on every task.
type Options struct {
	// LookBack extends the window into the past so late upstream
	// corrections are picked up.
	LookBack time.Duration
	// LookAhead extends the window into the future for markets that
	// publish ahead of delivery (day-ahead prices, merit orders).
	LookAhead time.Duration
	// SaveAs overrides the identifier data is persisted under; defaults
	// to the scraper's configured name.
	SaveAs string
}

// Pool drives one scraper with its configured worker count and pacing.
type Pool struct {
	scraper scraper.Scraper
	db      storage.Database
	breaker *gobreaker.CircuitBreaker
	opts    Options

	// now is swapped in tests
	now func() time.Time
}

// New creates a pool for the given scraper. The circuit breaker trips after
// repeated consecutive failures so a broken upstream is not hammered at full
// worker speed; it never retries on its own.
func New(s scraper.Scraper, db storage.Database, opts Options) *Pool {
	if opts.LookBack <= 0 {
		opts.LookBack = 6 * time.Hour
	}
	if opts.LookAhead <= 0 {
		opts.LookAhead = 36 * time.Hour
	}
	if opts.SaveAs == "" {
		opts.SaveAs = s.GetConfig().Name
	}
	return &Pool{
		scraper: s,
		db:      db,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.GetConfig().Name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
		opts: opts,
		now:  time.Now,
	}
}

// Run blocks until ctx is canceled, then drains cleanly.
func (p *Pool) Run(ctx context.Context) {
	cfg := p.scraper.GetConfig()
	ctx = log.WithScraper(ctx, cfg.Name)

	delay := time.Duration(cfg.TaskGeneratorDelayMS) * time.Millisecond

	// a little queueing for backpressure without unbounded buildup
	bufferSize := cfg.Workers * 2
	if bufferSize <= 0 {
		bufferSize = 10
	}
	tasks := make(chan struct{}, bufferSize)

	log.Ctx(ctx).InfoContext(ctx, "starting scraper pool",
		slog.Int("workers", cfg.Workers), slog.Duration("delay", delay))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(tasks)
		for {
			select {
			case <-ctx.Done():
				return
			case tasks <- struct{}{}:
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}
	}()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for range tasks {
				if ctx.Err() != nil {
					return
				}
				p.scrapeOnce(ctx, worker)
			}
		}(i)
	}

	wg.Wait()
	log.Ctx(ctx).InfoContext(ctx, "scraper pool stopped")
}

func (p *Pool) scrapeOnce(ctx context.Context, worker int) {
	now := p.now()
	start := now.Add(-p.opts.LookBack)
	end := now.Add(p.opts.LookAhead)

	result, err := p.breaker.Execute(func() (any, error) {
		return p.scraper.ScrapeData(ctx, start, end)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Ctx(ctx).DebugContext(ctx, "scrape skipped, breaker open", slog.Int("worker", worker))
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "scrape failed",
			slog.Int("worker", worker), slog.Any("error", err))
		return
	}

	data := result.([]types.ScraperData)
	if len(data) == 0 {
		return
	}

	saved, err := p.db.SaveIfNew(ctx, p.opts.SaveAs, data)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save scraped data",
			slog.Int("worker", worker), slog.Any("error", err))
		return
	}
	if saved {
		log.Ctx(ctx).InfoContext(ctx, "saved new data",
			slog.Int("worker", worker), slog.Int("count", len(data)))
	}
}
