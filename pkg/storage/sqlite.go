package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ve-energy/scrapers/pkg/types"
)

// changeEpsilon bounds how much a value must move before a re-scrape of the
// same interval counts as a change worth persisting.
const changeEpsilon = 1e-9

var viennaLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		panic(fmt.Errorf("failed to load vienna time location: %w", err))
	}
	return loc
}()

// SQLite persists scraper data in a local sqlite database. Timestamps are
// stored as unix microseconds UTC.
type SQLite struct {
	db    *sql.DB
	dirty *PartitionSet
}

var _ Database = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path. dirty may be
// nil when no uploader is configured.
func NewSQLite(path string, dirty *PartitionSet) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, dirty: dirty}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS series_values (
			scraper TEXT NOT NULL,
			delivery_from INTEGER NOT NULL,
			delivery_to INTEGER NOT NULL,
			series TEXT NOT NULL,
			value REAL NOT NULL,
			scraped_at INTEGER NOT NULL,
			PRIMARY KEY (scraper, delivery_from, delivery_to, series)
		);`,
		`CREATE TABLE IF NOT EXISTS bids (
			scraper TEXT NOT NULL,
			delivery_from INTEGER NOT NULL,
			delivery_to INTEGER NOT NULL,
			product TEXT NOT NULL,
			direction TEXT NOT NULL,
			rank INTEGER NOT NULL,
			price REAL,
			volume REAL,
			scraped_at INTEGER NOT NULL,
			PRIMARY KEY (scraper, delivery_from, delivery_to, product, direction, rank)
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveIfNew implements Database. A row is written only when its value moved
// (or it did not exist yet), so a re-scrape of unchanged upstream data is a
// no-op and produces no dirty partitions.
func (s *SQLite) SaveIfNew(ctx context.Context, scraper string, data []types.ScraperData) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().UnixMicro()
	savedAny := false
	var dirty []Partition

	for _, item := range data {
		if err := item.Validate(); err != nil {
			return false, err
		}
		from := item.DeliveryFrom.UTC().UnixMicro()
		to := item.DeliveryTo.UTC().UnixMicro()

		if item.Payload.Values != nil {
			for series, value := range item.Payload.Values {
				changed, err := s.saveValue(ctx, tx, scraper, from, to, series, value, now)
				if err != nil {
					return false, err
				}
				if changed {
					savedAny = true
					dirty = append(dirty, partitionFor(scraper, PartitionValues, item.DeliveryFrom))
				}
			}
		}
		for _, bid := range item.Payload.Bids {
			changed, err := s.saveBid(ctx, tx, scraper, from, to, bid, now)
			if err != nil {
				return false, err
			}
			if changed {
				savedAny = true
				dirty = append(dirty, partitionFor(scraper, PartitionBids, item.DeliveryFrom))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	if s.dirty != nil {
		for _, p := range dirty {
			s.dirty.Add(p)
		}
	}
	return savedAny, nil
}

func (s *SQLite) saveValue(ctx context.Context, tx *sql.Tx, scraper string, from, to int64, series string, value float64, now int64) (bool, error) {
	var existing float64
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM series_values WHERE scraper = ? AND delivery_from = ? AND delivery_to = ? AND series = ?`,
		scraper, from, to, series,
	).Scan(&existing)
	switch {
	case err == nil:
		if math.Abs(existing-value) <= changeEpsilon {
			return false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO series_values (scraper, delivery_from, delivery_to, series, value, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scraper, delivery_from, delivery_to, series)
		DO UPDATE SET value = excluded.value, scraped_at = excluded.scraped_at
	`, scraper, from, to, series, value, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) saveBid(ctx context.Context, tx *sql.Tx, scraper string, from, to int64, bid types.Bid, now int64) (bool, error) {
	var existingPrice, existingVolume sql.NullFloat64
	err := tx.QueryRowContext(ctx,
		`SELECT price, volume FROM bids WHERE scraper = ? AND delivery_from = ? AND delivery_to = ? AND product = ? AND direction = ? AND rank = ?`,
		scraper, from, to, string(bid.Type), string(bid.Direction), bid.Rank,
	).Scan(&existingPrice, &existingVolume)
	switch {
	case err == nil:
		if !optionalChanged(existingPrice, bid.Price) && !optionalChanged(existingVolume, bid.Volume) {
			return false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bids (scraper, delivery_from, delivery_to, product, direction, rank, price, volume, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scraper, delivery_from, delivery_to, product, direction, rank)
		DO UPDATE SET price = excluded.price, volume = excluded.volume, scraped_at = excluded.scraped_at
	`, scraper, from, to, string(bid.Type), string(bid.Direction), bid.Rank, nullableFloat(bid.Price), nullableFloat(bid.Volume), now)
	if err != nil {
		return false, err
	}
	return true, nil
}

func optionalChanged(old sql.NullFloat64, newValue *float64) bool {
	switch {
	case !old.Valid && newValue == nil:
		return false
	case old.Valid && newValue != nil:
		return math.Abs(old.Float64-*newValue) > changeEpsilon
	default:
		return true
	}
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// GetValues implements Database.
func (s *SQLite) GetValues(ctx context.Context, scraper string, start, end time.Time) ([]ValueRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT delivery_from, delivery_to, series, value, scraped_at
		FROM series_values
		WHERE scraper = ? AND delivery_from >= ? AND delivery_from < ?
		ORDER BY delivery_from, series
	`, scraper, start.UTC().UnixMicro(), end.UTC().UnixMicro())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ValueRow
	for rows.Next() {
		var from, to, scrapedAt int64
		var row ValueRow
		if err := rows.Scan(&from, &to, &row.Series, &row.Value, &scrapedAt); err != nil {
			return nil, err
		}
		row.DeliveryFrom = time.UnixMicro(from).UTC()
		row.DeliveryTo = time.UnixMicro(to).UTC()
		row.ScrapedAt = time.UnixMicro(scrapedAt).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetBids implements Database.
func (s *SQLite) GetBids(ctx context.Context, scraper string, start, end time.Time) ([]BidRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT delivery_from, delivery_to, product, direction, rank, price, volume, scraped_at
		FROM bids
		WHERE scraper = ? AND delivery_from >= ? AND delivery_from < ?
		ORDER BY delivery_from, product, direction, rank
	`, scraper, start.UTC().UnixMicro(), end.UTC().UnixMicro())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BidRow
	for rows.Next() {
		var from, to, scrapedAt int64
		var product, direction string
		var price, volume sql.NullFloat64
		var row BidRow
		if err := rows.Scan(&from, &to, &product, &direction, &row.Bid.Rank, &price, &volume, &scrapedAt); err != nil {
			return nil, err
		}
		row.DeliveryFrom = time.UnixMicro(from).UTC()
		row.DeliveryTo = time.UnixMicro(to).UTC()
		row.ScrapedAt = time.UnixMicro(scrapedAt).UTC()
		row.Bid.Type = types.BidType(product)
		row.Bid.Direction = types.Direction(direction)
		if price.Valid {
			v := price.Float64
			row.Bid.Price = &v
		}
		if volume.Valid {
			v := volume.Float64
			row.Bid.Volume = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Cleanup implements Database. The cutoff is the start of the Vienna-local
// day retentionDays ago; whole delivery days older than that are removed.
func (s *SQLite) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	local := time.Now().In(viennaLocation).AddDate(0, 0, -retentionDays)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, viennaLocation).UTC().UnixMicro()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM series_values WHERE delivery_from < ?`, cutoff); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bids WHERE delivery_from < ?`, cutoff); err != nil {
		return err
	}
	return nil
}
