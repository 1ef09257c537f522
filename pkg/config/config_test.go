package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"s3_bucket": "exports",
		"s3_region": "eu-central",
		"retention_days": 30,
		"scrapers": [
			{
				"name": "apg_prices",
				"workers": 2,
				"task_generator_delay_ms": 500,
				"values": {
					"url": "https://transparency.apg.at/api",
					"url_template": "prices/{from}/{to}",
					"value_columns": ["Preis"]
				}
			},
			{
				"name": "entsoe_da",
				"workers": 1,
				"sub_data_folder": "day_ahead",
				"values": {
					"url": "https://web-api.tp.entsoe.eu/api",
					"token": "abc"
				}
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "exports", cfg.S3Bucket)
	assert.Equal(t, 30, cfg.RetentionDays)
	require.Len(t, cfg.Scrapers, 2)

	first := cfg.Scrapers[0]
	assert.Equal(t, "apg_prices", first.Name)
	assert.Equal(t, 2, first.Workers)
	assert.Equal(t, 500, first.TaskGeneratorDelayMS)
	assert.Equal(t, "https://transparency.apg.at/api", first.Values["url"])
	assert.Equal(t, "apg_prices", first.StorageName())

	assert.Equal(t, "day_ahead", cfg.Scrapers[1].StorageName())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{
		"s3_bucket": "from-file",
		"scrapers": [{"name": "apg_prices", "workers": 1, "values": {}}]
	}`)

	t.Setenv("S3_BUCKET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.S3Bucket)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	t.Run("NoScrapers", func(t *testing.T) {
		path := writeConfig(t, `{"scrapers": []}`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("ZeroWorkers", func(t *testing.T) {
		path := writeConfig(t, `{"scrapers": [{"name": "apg_prices", "workers": 0, "values": {}}]}`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "apg_prices")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		path := writeConfig(t, `{"scrapers": [`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}
