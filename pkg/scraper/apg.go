package scraper

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/types"
)

// apgURLTimeFormat is the timestamp format APG expects in request paths.
const apgURLTimeFormat = "2006-01-02T150405"

// apgCSVTimeFormats are the Vienna-local layouts APG uses in CSV exports,
// with and without seconds.
var apgCSVTimeFormats = []string{"02.01.2006 15:04:05", "02.01.2006 15:04"}

// Fixed columns of APG balancing-bid (merit order) exports.
const (
	apgColFrom      = "Von"
	apgColTo        = "Bis"
	apgColProduct   = "Produkt"
	apgColDirection = "Richtung"
	apgColRank      = "Rang"
	apgColPrice     = "Preis"
	apgColVolume    = "Volumen"
)

// APG fetches time-series or balancing-bid data from the Austrian Power Grid
// transparency API. The request URL is built by substituting {from}/{to}
// placeholders in a configured template; the response is a semicolon-
// separated CSV with Vienna-local timestamps.
type APG struct {
	cfg    types.ScraperConfig
	client *http.Client

	baseURL       string
	urlTemplate   string
	valueColumns  []string
	balancingBids bool
	lenient       bool
}

var _ Scraper = (*APG)(nil)

// NewAPG constructs the APG provider, resolving and validating all config
// values up front. An invalid configuration fails here and never reaches a
// scrape; no network I/O happens during construction.
func NewAPG(cfg types.ScraperConfig, client *http.Client) (*APG, error) {
	r := NewResolver(cfg.Values)

	baseURL, err := r.RequireString("url")
	if err != nil {
		return nil, err
	}
	urlTemplate, err := r.RequireString("url_template")
	if err != nil {
		return nil, err
	}
	balancingBids, err := r.OptionalBool("is_balancing_bids", false)
	if err != nil {
		return nil, err
	}
	lenient, err := r.OptionalBool("lenient", false)
	if err != nil {
		return nil, err
	}

	a := &APG{
		cfg:           cfg,
		client:        client,
		baseURL:       baseURL,
		urlTemplate:   urlTemplate,
		balancingBids: balancingBids,
		lenient:       lenient,
	}

	if !balancingBids {
		// "value_columns" is preferred; the singular "value_column" is
		// accepted for older configs.
		key := "value_columns"
		if _, ok := cfg.Values[key]; !ok {
			if _, ok := cfg.Values["value_column"]; ok {
				key = "value_column"
			}
		}
		columns, err := r.RequireStringList(key)
		if err != nil {
			return nil, err
		}
		a.valueColumns = columns
	}

	return a, nil
}

// GetConfig implements Scraper.
func (a *APG) GetConfig() *types.ScraperConfig {
	return &a.cfg
}

// ScrapeData implements Scraper for the half-open window [start, end).
func (a *APG) ScrapeData(ctx context.Context, start, end time.Time) ([]types.ScraperData, error) {
	if err := validateWindow(start, end); err != nil {
		return nil, err
	}

	requestURL := a.renderURL(start, end)
	log.Ctx(ctx).DebugContext(ctx, "fetching apg data", slog.String("url", requestURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("apg api status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransportError{Err: fmt.Errorf("apg api status %d", resp.StatusCode)}
	}

	var data []types.ScraperData
	if a.balancingBids {
		data, err = a.parseBids(ctx, resp.Body)
	} else {
		data, err = a.parseValues(ctx, resp.Body)
	}
	if err != nil {
		return nil, err
	}

	// Intervals are reported verbatim; anything not overlapping the
	// window is dropped, nothing is truncated.
	out := make([]types.ScraperData, 0, len(data))
	for _, d := range data {
		if d.Overlaps(start, end) {
			out = append(out, d)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched apg data",
		slog.Int("rows", len(data)), slog.Int("inWindow", len(out)))
	return out, nil
}

// renderURL substitutes {from}/{to} into the template and joins it onto the
// base URL.
func (a *APG) renderURL(start, end time.Time) string {
	rendered := strings.ReplaceAll(a.urlTemplate, "{from}", start.In(viennaLocation).Format(apgURLTimeFormat))
	rendered = strings.ReplaceAll(rendered, "{to}", end.In(viennaLocation).Format(apgURLTimeFormat))
	return strings.TrimSuffix(a.baseURL, "/") + "/" + strings.TrimPrefix(rendered, "/")
}

func (a *APG) newCSVReader(body io.Reader) *csv.Reader {
	reader := csv.NewReader(body)
	reader.Comma = ';'
	// APG exports occasionally carry trailing columns we don't care about
	reader.FieldsPerRecord = -1
	return reader
}

// parseValues reads a scalar-series CSV: Von;Bis;<named value columns>.
// Every configured column must be present in the header and numeric in every
// row (unless lenient, which skips bad rows instead).
func (a *APG) parseValues(ctx context.Context, body io.Reader) ([]types.ScraperData, error) {
	reader := a.newCSVReader(body)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		// empty body means the upstream has nothing for this window
		return nil, nil
	}
	if err != nil {
		return nil, &ParseError{Reason: "failed to read csv header: " + err.Error()}
	}

	colIdx, err := headerIndex(header, apgColFrom, apgColTo)
	if err != nil {
		return nil, err
	}
	for _, col := range a.valueColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, &ParseError{Column: col, Reason: "column missing from response header"}
		}
	}

	var (
		order []intervalKey
		rows  = make(map[intervalKey]map[string]float64)
	)

	for rowNum := 1; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: rowNum, Reason: "malformed csv row: " + err.Error()}
		}

		from, to, err := parseIntervalColumns(record, colIdx, rowNum)
		if err != nil {
			if a.lenient {
				log.Ctx(ctx).WarnContext(ctx, "skipping unparseable apg row", slog.Int("row", rowNum), slog.Any("error", err))
				continue
			}
			return nil, err
		}

		values := make(map[string]float64, len(a.valueColumns))
		rowOK := true
		for _, col := range a.valueColumns {
			idx := colIdx[col]
			if idx >= len(record) {
				err = &ParseError{Row: rowNum, Column: col, Reason: "row has no value for column"}
			} else {
				values[col], err = parseAPGFloat(record[idx], rowNum, col)
			}
			if err != nil {
				if a.lenient {
					log.Ctx(ctx).WarnContext(ctx, "skipping unparseable apg row", slog.Int("row", rowNum), slog.Any("error", err))
					rowOK = false
					break
				}
				return nil, err
			}
		}
		if !rowOK {
			continue
		}

		key := intervalKey{from: from.UnixMicro(), to: to.UnixMicro()}
		existing, ok := rows[key]
		if !ok {
			rows[key] = values
			order = append(order, key)
			continue
		}
		// repeated interval: later rows win per column, like the upstream
		// exports behave when a value is republished
		for k, v := range values {
			existing[k] = v
		}
	}

	out := make([]types.ScraperData, 0, len(order))
	for _, key := range order {
		out = append(out, types.ScraperData{
			DeliveryFrom: time.UnixMicro(key.from).UTC(),
			DeliveryTo:   time.UnixMicro(key.to).UTC(),
			Payload:      types.ValuesPayload(rows[key]),
		})
	}
	return out, nil
}

// parseBids reads a balancing-bid (merit order) CSV with the fixed columns
// Von;Bis;Produkt;Richtung;Rang;Preis;Volumen and groups bids per delivery
// interval preserving upstream order.
func (a *APG) parseBids(ctx context.Context, body io.Reader) ([]types.ScraperData, error) {
	reader := a.newCSVReader(body)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &ParseError{Reason: "failed to read csv header: " + err.Error()}
	}

	colIdx, err := headerIndex(header,
		apgColFrom, apgColTo, apgColProduct, apgColDirection, apgColRank, apgColPrice, apgColVolume)
	if err != nil {
		return nil, err
	}

	var (
		order []intervalKey
		bids  = make(map[intervalKey][]types.Bid)
	)

	for rowNum := 1; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: rowNum, Reason: "malformed csv row: " + err.Error()}
		}

		from, to, err := parseIntervalColumns(record, colIdx, rowNum)
		if err != nil {
			return nil, err
		}

		bid, err := parseBidColumns(record, colIdx, rowNum)
		if err != nil {
			if a.lenient {
				log.Ctx(ctx).WarnContext(ctx, "skipping unparseable apg bid row", slog.Int("row", rowNum), slog.Any("error", err))
				continue
			}
			return nil, err
		}

		key := intervalKey{from: from.UnixMicro(), to: to.UnixMicro()}
		if _, ok := bids[key]; !ok {
			order = append(order, key)
		}
		bids[key] = append(bids[key], bid)
	}

	out := make([]types.ScraperData, 0, len(order))
	for _, key := range order {
		out = append(out, types.ScraperData{
			DeliveryFrom: time.UnixMicro(key.from).UTC(),
			DeliveryTo:   time.UnixMicro(key.to).UTC(),
			Payload:      types.BidsPayload(bids[key]),
		})
	}
	return out, nil
}

type intervalKey struct {
	from int64
	to   int64
}

// headerIndex maps the required column names to their positions, failing
// with a ParseError naming the first missing column. Extra columns are
// ignored.
func headerIndex(header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, &ParseError{Column: name, Reason: "column missing from response header"}
		}
	}
	return idx, nil
}

func parseIntervalColumns(record []string, colIdx map[string]int, rowNum int) (time.Time, time.Time, error) {
	from, err := parseViennaTime(record, colIdx, apgColFrom, rowNum)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseViennaTime(record, colIdx, apgColTo, rowNum)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, &ParseError{
			Row:    rowNum,
			Reason: fmt.Sprintf("delivery interval start %q is not before end %q", record[colIdx[apgColFrom]], record[colIdx[apgColTo]]),
		}
	}
	return from, to, nil
}

func parseViennaTime(record []string, colIdx map[string]int, col string, rowNum int) (time.Time, error) {
	idx := colIdx[col]
	if idx >= len(record) {
		return time.Time{}, &ParseError{Row: rowNum, Column: col, Reason: "row has no value for column"}
	}
	raw := strings.TrimSpace(record[idx])
	for _, layout := range apgCSVTimeFormats {
		if t, err := time.ParseInLocation(layout, raw, viennaLocation); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Row: rowNum, Column: col, Reason: fmt.Sprintf("unparseable timestamp %q", raw)}
}

func parseAPGFloat(raw string, rowNum int, col string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ParseError{Row: rowNum, Column: col, Reason: "empty value in numeric column"}
	}
	// APG exports use decimal commas
	f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, &ParseError{Row: rowNum, Column: col, Reason: fmt.Sprintf("non-numeric value %q", raw)}
	}
	return f, nil
}

// parseOptionalAPGFloat is parseAPGFloat where an empty cell means "absent",
// e.g. an unpriced balancing bid.
func parseOptionalAPGFloat(raw string, rowNum int, col string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	f, err := parseAPGFloat(raw, rowNum, col)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseBidColumns(record []string, colIdx map[string]int, rowNum int) (types.Bid, error) {
	get := func(col string) (string, error) {
		idx := colIdx[col]
		if idx >= len(record) {
			return "", &ParseError{Row: rowNum, Column: col, Reason: "row has no value for column"}
		}
		return strings.TrimSpace(record[idx]), nil
	}

	var bid types.Bid

	product, err := get(apgColProduct)
	if err != nil {
		return bid, err
	}
	switch product {
	case "SRE":
		bid.Type = types.BidTypeSecondary
	case "TRE":
		bid.Type = types.BidTypeTertiary
	default:
		return bid, &ParseError{Row: rowNum, Column: apgColProduct, Reason: fmt.Sprintf("unknown product %q", product)}
	}

	direction, err := get(apgColDirection)
	if err != nil {
		return bid, err
	}
	switch direction {
	case "POS":
		bid.Direction = types.DirectionPositive
	case "NEG":
		bid.Direction = types.DirectionNegative
	default:
		return bid, &ParseError{Row: rowNum, Column: apgColDirection, Reason: fmt.Sprintf("unknown direction %q", direction)}
	}

	rank, err := get(apgColRank)
	if err != nil {
		return bid, err
	}
	bid.Rank, err = strconv.Atoi(rank)
	if err != nil {
		return bid, &ParseError{Row: rowNum, Column: apgColRank, Reason: fmt.Sprintf("non-integer rank %q", rank)}
	}

	price, err := get(apgColPrice)
	if err != nil {
		return bid, err
	}
	bid.Price, err = parseOptionalAPGFloat(price, rowNum, apgColPrice)
	if err != nil {
		return bid, err
	}

	volume, err := get(apgColVolume)
	if err != nil {
		return bid, err
	}
	bid.Volume, err = parseOptionalAPGFloat(volume, rowNum, apgColVolume)
	if err != nil {
		return bid, err
	}

	return bid, nil
}
