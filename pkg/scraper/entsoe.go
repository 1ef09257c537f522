package scraper

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/types"
)

// entsoeRequestTimeFormat is the UTC period format the Transparency Platform
// expects in query parameters.
const entsoeRequestTimeFormat = "200601021504"

// entsoeNoDataReasonCode is the acknowledgement reason the platform returns
// when no data matches the query. That is a successful empty result, not an
// error.
const entsoeNoDataReasonCode = "999"

// Entsoe fetches time-series data from the ENTSO-E Transparency Platform
// restful API. Requests are authenticated with a security token query
// parameter; responses are Publication_MarketDocument XML.
type Entsoe struct {
	cfg    types.ScraperConfig
	client *http.Client

	baseURL    *url.URL
	token      string
	seriesName string
	extra      url.Values
	maxWindow  time.Duration
}

var _ Scraper = (*Entsoe)(nil)

// NewEntsoe constructs the ENTSO-E provider. Like every provider it resolves
// and validates its whole configuration here; a rejected config never issues
// network I/O.
func NewEntsoe(cfg types.ScraperConfig, client *http.Client) (*Entsoe, error) {
	r := NewResolver(cfg.Values)

	rawURL, err := r.RequireString("url")
	if err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, &TypeMismatchError{Key: "url", Expected: "valid url", Found: rawURL}
	}
	token, err := r.RequireString("token")
	if err != nil {
		return nil, err
	}
	seriesName, err := r.OptionalString("series_name", "price")
	if err != nil {
		return nil, err
	}
	params, err := r.OptionalStringList("query_params")
	if err != nil {
		return nil, err
	}
	extra := url.Values{}
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, &TypeMismatchError{Key: "query_params", Expected: "list of key=value strings", Found: fmt.Sprintf("%q", p)}
		}
		extra.Add(k, v)
	}
	// The platform caps how much one request may cover (a year for most
	// document types); longer windows are split into sequential requests.
	maxWindowDays, err := r.OptionalPositiveInt("max_window_days", 365)
	if err != nil {
		return nil, err
	}

	return &Entsoe{
		cfg:        cfg,
		client:     client,
		baseURL:    baseURL,
		token:      token,
		seriesName: seriesName,
		extra:      extra,
		maxWindow:  time.Duration(maxWindowDays) * 24 * time.Hour,
	}, nil
}

// GetConfig implements Scraper.
func (e *Entsoe) GetConfig() *types.ScraperConfig {
	return &e.cfg
}

// ScrapeData implements Scraper for the half-open window [start, end). A
// window longer than the platform's per-request cap is fetched as sequential
// sub-windows whose results are concatenated in chronological order and
// de-duplicated on delivery interval.
func (e *Entsoe) ScrapeData(ctx context.Context, start, end time.Time) ([]types.ScraperData, error) {
	if err := validateWindow(start, end); err != nil {
		return nil, err
	}

	var all []types.ScraperData
	seen := make(map[intervalKey]struct{})

	for ws := start; ws.Before(end); {
		we := ws.Add(e.maxWindow)
		if we.After(end) {
			we = end
		}

		data, err := e.fetchWindow(ctx, ws, we)
		if err != nil {
			return nil, err
		}
		for _, d := range data {
			key := intervalKey{from: d.DeliveryFrom.UnixMicro(), to: d.DeliveryTo.UnixMicro()}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if d.Overlaps(start, end) {
				all = append(all, d)
			}
		}
		ws = we
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].DeliveryFrom.Before(all[j].DeliveryFrom)
	})
	return all, nil
}

func (e *Entsoe) fetchWindow(ctx context.Context, start, end time.Time) ([]types.ScraperData, error) {
	u := *e.baseURL
	q := u.Query()
	for k, vs := range e.extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("securityToken", e.token)
	q.Set("periodStart", start.UTC().Format(entsoeRequestTimeFormat))
	q.Set("periodEnd", end.UTC().Format(entsoeRequestTimeFormat))
	u.RawQuery = q.Encode()

	log.Ctx(ctx).DebugContext(ctx, "fetching entsoe data",
		slog.Time("start", start), slog.Time("end", end))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("entsoe api status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransportError{Err: fmt.Errorf("entsoe api status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch rootElement(body) {
	case "Acknowledgement_MarketDocument":
		return nil, e.handleAcknowledgement(body)
	case "Publication_MarketDocument":
		return e.parseDocument(body)
	default:
		return nil, &ParseError{Reason: "response is not a recognized market document"}
	}
}

// rootElement returns the local name of the document's root element, or ""
// when the body is not well-formed XML.
func rootElement(body []byte) string {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

type entsoeAcknowledgement struct {
	Reasons []struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
}

// handleAcknowledgement classifies a platform acknowledgement: "no matching
// data" is a nil (empty) result, a rejected token is an AuthError, anything
// else is a ParseError carrying the platform's reason text.
func (e *Entsoe) handleAcknowledgement(body []byte) error {
	var ack entsoeAcknowledgement
	if err := xml.Unmarshal(body, &ack); err != nil {
		return &ParseError{Reason: "malformed acknowledgement document: " + err.Error()}
	}
	for _, reason := range ack.Reasons {
		if reason.Code == entsoeNoDataReasonCode {
			return nil
		}
		lower := strings.ToLower(reason.Text)
		if strings.Contains(lower, "token") || strings.Contains(lower, "not authorized") || strings.Contains(lower, "unauthorized") {
			return &AuthError{Reason: reason.Text}
		}
	}
	if len(ack.Reasons) > 0 {
		return &ParseError{Reason: "request rejected: " + ack.Reasons[0].Text}
	}
	return &ParseError{Reason: "request rejected without a reason"}
}

type entsoeDocument struct {
	TimeSeries []struct {
		Periods []struct {
			TimeInterval struct {
				Start string `xml:"start"`
				End   string `xml:"end"`
			} `xml:"timeInterval"`
			Resolution string `xml:"resolution"`
			Points     []struct {
				Position int    `xml:"position"`
				Amount   string `xml:"price.amount"`
			} `xml:"Point"`
		} `xml:"Period"`
	} `xml:"TimeSeries"`
}

// parseDocument expands every Period's points into delivery intervals of one
// resolution step each.
func (e *Entsoe) parseDocument(body []byte) ([]types.ScraperData, error) {
	var doc entsoeDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Reason: "malformed market document: " + err.Error()}
	}

	var out []types.ScraperData
	for _, ts := range doc.TimeSeries {
		for _, period := range ts.Periods {
			periodStart, err := parseEntsoeTime(period.TimeInterval.Start)
			if err != nil {
				return nil, err
			}
			resolution, err := parseEntsoeResolution(period.Resolution)
			if err != nil {
				return nil, err
			}

			for _, point := range period.Points {
				if point.Position < 1 {
					return nil, &ParseError{Reason: fmt.Sprintf("invalid point position %d", point.Position)}
				}
				amount, err := strconv.ParseFloat(strings.TrimSpace(point.Amount), 64)
				if err != nil {
					return nil, &ParseError{
						Row:    point.Position,
						Column: "price.amount",
						Reason: fmt.Sprintf("non-numeric value %q", point.Amount),
					}
				}

				from := periodStart.Add(time.Duration(point.Position-1) * resolution)
				out = append(out, types.ScraperData{
					DeliveryFrom: from,
					DeliveryTo:   from.Add(resolution),
					Payload:      types.ValuesPayload(map[string]float64{e.seriesName: amount}),
				})
			}
		}
	}
	return out, nil
}

func parseEntsoeTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02T15:04Z07:00", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Column: "timeInterval", Reason: fmt.Sprintf("unparseable timestamp %q", raw)}
}

// parseEntsoeResolution parses the ISO-8601 durations the platform uses
// (PT15M, PT30M, PT60M, PT1H, P1D).
func parseEntsoeResolution(raw string) (time.Duration, error) {
	switch raw = strings.TrimSpace(raw); raw {
	case "PT1H":
		return time.Hour, nil
	case "P1D":
		return 24 * time.Hour, nil
	default:
		if minutes, ok := strings.CutPrefix(raw, "PT"); ok {
			if minutes, ok := strings.CutSuffix(minutes, "M"); ok {
				if n, err := strconv.Atoi(minutes); err == nil && n > 0 {
					return time.Duration(n) * time.Minute, nil
				}
			}
		}
		return 0, &ParseError{Column: "resolution", Reason: fmt.Sprintf("unsupported resolution %q", raw)}
	}
}
