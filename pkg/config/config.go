// Package config loads the service configuration: a config.json listing the
// scrapers to run plus optional S3 and retention settings, with environment
// variables overriding the file for deploy-time secrets.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ve-energy/scrapers/pkg/types"
)

var validate = validator.New()

// ScraperEntry is one scraper in the config file. The embedded ScraperConfig
// fields are flat in JSON, matching how the service has always been
// configured.
type ScraperEntry struct {
	types.ScraperConfig
	// SubDataFolder overrides the folder data is stored and uploaded
	// under; defaults to the scraper name.
	SubDataFolder string `json:"sub_data_folder"`
}

// StorageName returns the identifier rows are persisted under.
func (e ScraperEntry) StorageName() string {
	if e.SubDataFolder != "" {
		return e.SubDataFolder
	}
	return e.Name
}

// AppConfig is the whole service configuration.
type AppConfig struct {
	S3Bucket   string `json:"s3_bucket" env:"S3_BUCKET"`
	S3Region   string `json:"s3_region" env:"S3_REGION"`
	S3Endpoint string `json:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Prefix   string `json:"s3_prefix" env:"S3_PREFIX"`

	// RetentionDays prunes old delivery days from storage; 0 keeps
	// everything.
	RetentionDays int `json:"retention_days" validate:"gte=0"`

	Scrapers []ScraperEntry `json:"scrapers" validate:"required,min=1"`
}

// Load reads and validates the configuration at path. Environment variables
// override the file's S3 settings.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	for i := range cfg.Scrapers {
		if err := cfg.Scrapers[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid scraper config %q: %w", cfg.Scrapers[i].Name, err)
		}
	}
	return &cfg, nil
}
