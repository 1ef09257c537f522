package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ScraperConfig parameterizes a single scraper instance. Name, Workers and
// TaskGeneratorDelayMS are consumed by the orchestrator; Values is the only
// provider-specific surface and is read-only for the lifetime of the scraper.
type ScraperConfig struct {
	Name string `json:"name" validate:"required"`
	// Workers is a concurrency hint for the orchestrator, not enforced by
	// the scraper itself.
	Workers int `json:"workers" validate:"gt=0"`
	// TaskGeneratorDelayMS paces task generation against the upstream API.
	TaskGeneratorDelayMS int `json:"task_generator_delay_ms" validate:"gte=0"`
	// Values is a loosely-typed bag of provider-specific settings. Values
	// are strings, numbers, booleans or lists of strings, JSON-shaped.
	Values map[string]any `json:"values"`
}

// Validate checks the orchestrator-facing fields. Provider-specific values
// are validated by each provider's constructor.
func (c *ScraperConfig) Validate() error {
	return validate.Struct(c)
}
