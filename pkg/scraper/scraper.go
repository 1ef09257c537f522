package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ve-energy/scrapers/pkg/common"
	"github.com/ve-energy/scrapers/pkg/types"
)

// Scraper is the uniform contract every market-data provider implements.
// The orchestrator is provider-agnostic: providers are added by implementing
// this interface, never by modifying existing ones.
type Scraper interface {
	// GetConfig returns the configuration the scraper was constructed
	// with. Side-effect free, read-only.
	GetConfig() *types.ScraperConfig

	// ScrapeData fetches and normalizes data strictly for the half-open
	// window [start, end). It returns an empty slice (not an error) when
	// the upstream reports no data for the window. Concurrent calls on
	// the same instance are safe; no state is retained between calls.
	ScrapeData(ctx context.Context, start, end time.Time) ([]types.ScraperData, error)
}

// New builds the provider for cfg, dispatching on the configured url the
// same way the service always has: an ENTSO-E endpoint is recognized by its
// hostname, everything pointing at APG by its own. client may be nil, in
// which case a default client with a one-minute timeout is used.
func New(cfg types.ScraperConfig, client *http.Client) (Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scraper %q: %w", cfg.Name, err)
	}
	if client == nil {
		client = common.HTTPClient(time.Minute)
	}

	url, err := NewResolver(cfg.Values).RequireString("url")
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", cfg.Name, err)
	}

	switch {
	case strings.Contains(url, "entsoe"):
		return NewEntsoe(cfg, client)
	case strings.Contains(url, "apg"):
		return NewAPG(cfg, client)
	default:
		return nil, fmt.Errorf("scraper %q: no provider for url %q", cfg.Name, url)
	}
}

// validateWindow enforces the contract precondition start < end. Callers
// must not rely on implicit clamping.
func validateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return &ValidationError{Reason: fmt.Sprintf(
			"start (%s) must be before end (%s)",
			start.Format(time.RFC3339), end.Format(time.RFC3339),
		)}
	}
	return nil
}
