package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ve-energy/scrapers/pkg/types"
)

func newTestEntsoeConfig(serverURL string, extra map[string]any) types.ScraperConfig {
	values := map[string]any{
		"url":   serverURL,
		"token": "test-token",
	}
	for k, v := range extra {
		values[k] = v
	}
	return types.ScraperConfig{
		Name:    "entsoe_test",
		Workers: 1,
		Values:  values,
	}
}

const entsoePublicationFixture = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:0">
  <TimeSeries>
    <Period>
      <timeInterval>
        <start>2024-01-01T00:00Z</start>
        <end>2024-01-01T02:00Z</end>
      </timeInterval>
      <resolution>PT60M</resolution>
      <Point><position>1</position><price.amount>50.1</price.amount></Point>
      <Point><position>2</position><price.amount>52.4</price.amount></Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

func ackFixture(code, text string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-1:acknowledgementdocument:8:1">
  <Reason>
    <code>%s</code>
    <text>%s</text>
  </Reason>
</Acknowledgement_MarketDocument>`, code, text)
}

func TestEntsoe(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("PublicationDocument", func(t *testing.T) {
		var query map[string][]string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query()
			_, _ = w.Write([]byte(entsoePublicationFixture))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, map[string]any{
			"query_params": []any{"documentType=A44", "in_Domain=10YAT-APG------L"},
		}), ts.Client())
		require.NoError(t, err)

		data, err := e.ScrapeData(context.Background(), start, start.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, data, 2)

		assert.Equal(t, []string{"test-token"}, query["securityToken"])
		assert.Equal(t, []string{"202401010000"}, query["periodStart"])
		assert.Equal(t, []string{"202401010200"}, query["periodEnd"])
		assert.Equal(t, []string{"A44"}, query["documentType"])
		assert.Equal(t, []string{"10YAT-APG------L"}, query["in_Domain"])

		assert.Equal(t, start, data[0].DeliveryFrom)
		assert.Equal(t, start.Add(time.Hour), data[0].DeliveryTo)
		assert.Equal(t, map[string]float64{"price": 50.1}, data[0].Payload.Values)
		assert.Equal(t, start.Add(time.Hour), data[1].DeliveryFrom)
		assert.Equal(t, map[string]float64{"price": 52.4}, data[1].Payload.Values)
	})

	t.Run("SeriesName", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(entsoePublicationFixture))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, map[string]any{
			"series_name": "da_price_eur_mwh",
		}), ts.Client())
		require.NoError(t, err)

		data, err := e.ScrapeData(context.Background(), start, start.Add(2*time.Hour))
		require.NoError(t, err)
		require.NotEmpty(t, data)
		assert.Equal(t, map[string]float64{"da_price_eur_mwh": 50.1}, data[0].Payload.Values)
	})

	t.Run("WindowSplitting", func(t *testing.T) {
		// each sub-window gets its own hourly point derived from periodStart,
		// so the split is observable in the merged result
		requests := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			ws, err := time.Parse(entsoeRequestTimeFormat, r.URL.Query().Get("periodStart"))
			require.NoError(t, err)
			doc := fmt.Sprintf(`<Publication_MarketDocument>
  <TimeSeries><Period>
    <timeInterval><start>%s</start><end>%s</end></timeInterval>
    <resolution>PT60M</resolution>
    <Point><position>1</position><price.amount>10</price.amount></Point>
  </Period></TimeSeries>
</Publication_MarketDocument>`,
				ws.Format("2006-01-02T15:04Z"), ws.Add(time.Hour).Format("2006-01-02T15:04Z"))
			_, _ = w.Write([]byte(doc))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, map[string]any{
			"max_window_days": float64(1),
		}), ts.Client())
		require.NoError(t, err)

		data, err := e.ScrapeData(context.Background(), start, start.Add(3*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, requests)
		require.Len(t, data, 3)
		for i := 1; i < len(data); i++ {
			assert.True(t, data[i-1].DeliveryFrom.Before(data[i].DeliveryFrom), "results sorted chronologically")
		}
	})

	t.Run("DuplicateIntervalsAcrossWindows", func(t *testing.T) {
		// the platform can return the same interval in adjacent sub-windows;
		// only the first occurrence survives
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(entsoePublicationFixture))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, map[string]any{
			"max_window_days": float64(1),
		}), ts.Client())
		require.NoError(t, err)

		data, err := e.ScrapeData(context.Background(), start, start.Add(2*24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, data, 2)
	})

	t.Run("NoDataAcknowledgement", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(ackFixture("999", "No matching data found")))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, nil), ts.Client())
		require.NoError(t, err)

		data, err := e.ScrapeData(context.Background(), start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("RejectedTokenAcknowledgement", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(ackFixture("1", "Invalid security token supplied")))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, nil), ts.Client())
		require.NoError(t, err)

		_, err = e.ScrapeData(context.Background(), start, start.Add(time.Hour))
		var authErr *AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("OtherAcknowledgement", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(ackFixture("1", "Requested period exceeds the limit")))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, nil), ts.Client())
		require.NoError(t, err)

		_, err = e.ScrapeData(context.Background(), start, start.Add(time.Hour))
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Contains(t, parseErr.Reason, "exceeds the limit")
	})

	t.Run("UnauthorizedStatus", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, nil), ts.Client())
		require.NoError(t, err)

		_, err = e.ScrapeData(context.Background(), start, start.Add(time.Hour))
		var authErr *AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("UnrecognizedDocument", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
		}))
		defer ts.Close()

		e, err := NewEntsoe(newTestEntsoeConfig(ts.URL, nil), ts.Client())
		require.NoError(t, err)

		_, err = e.ScrapeData(context.Background(), start, start.Add(time.Hour))
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr)
	})

	t.Run("MissingToken", func(t *testing.T) {
		cfg := newTestEntsoeConfig("https://example.com", nil)
		delete(cfg.Values, "token")

		_, err := NewEntsoe(cfg, nil)
		var missing *MissingKeyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "token", missing.Key)
	})

	t.Run("MalformedQueryParams", func(t *testing.T) {
		_, err := NewEntsoe(newTestEntsoeConfig("https://example.com", map[string]any{
			"query_params": []any{"documentTypeA44"},
		}), nil)
		var mismatch *TypeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "query_params", mismatch.Key)
	})

	t.Run("ResolutionParsing", func(t *testing.T) {
		for raw, want := range map[string]time.Duration{
			"PT15M": 15 * time.Minute,
			"PT30M": 30 * time.Minute,
			"PT60M": time.Hour,
			"PT1H":  time.Hour,
			"P1D":   24 * time.Hour,
		} {
			got, err := parseEntsoeResolution(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, want, got, raw)
		}

		_, err := parseEntsoeResolution("P1M")
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr)
	})
}
