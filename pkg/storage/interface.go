package storage

import (
	"context"
	"time"

	"github.com/ve-energy/scrapers/pkg/types"
)

// ValueRow is one persisted scalar observation.
type ValueRow struct {
	DeliveryFrom time.Time
	DeliveryTo   time.Time
	Series       string
	Value        float64
	ScrapedAt    time.Time
}

// BidRow is one persisted balancing bid.
type BidRow struct {
	DeliveryFrom time.Time
	DeliveryTo   time.Time
	Bid          types.Bid
	ScrapedAt    time.Time
}

// Database defines the interface for persisting normalized scraper data.
type Database interface {
	// SaveIfNew persists the scraped data for the named scraper, writing
	// only rows whose value actually changed since the last save. It
	// reports whether anything was written.
	SaveIfNew(ctx context.Context, scraper string, data []types.ScraperData) (bool, error)

	// GetValues returns scalar rows with delivery_from in [start, end),
	// ordered chronologically.
	GetValues(ctx context.Context, scraper string, start, end time.Time) ([]ValueRow, error)

	// GetBids returns bid rows with delivery_from in [start, end),
	// ordered chronologically then by rank.
	GetBids(ctx context.Context, scraper string, start, end time.Time) ([]BidRow, error)

	// Cleanup removes data whose delivery day (Vienna-local, like the
	// partition layout) is older than the retention cutoff.
	Cleanup(ctx context.Context, retentionDays int) error

	// Lifecycle
	Close() error
}
