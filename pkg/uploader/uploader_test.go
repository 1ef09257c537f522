package uploader

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ve-energy/scrapers/pkg/storage"
	"github.com/ve-energy/scrapers/pkg/storage/storagemock"
	"github.com/ve-energy/scrapers/pkg/types"
)

type fakeS3 struct {
	puts map[string][]byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func floatPtr(v float64) *float64 { return &v }

func TestUploaderUploadsDirtyPartitions(t *testing.T) {
	ctx := context.Background()

	part := storage.Partition{Scraper: "apg_prices", Kind: storage.PartitionValues, Year: 2024, Month: 3, Day: 1}
	start, end := part.DayRange()

	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &storagemock.MockDatabase{}
	db.On("GetValues", mock.Anything, "apg_prices", start, end).Return([]storage.ValueRow{{
		DeliveryFrom: from,
		DeliveryTo:   from.Add(15 * time.Minute),
		Series:       "price",
		Value:        42.5,
		ScrapedAt:    from.Add(time.Minute),
	}}, nil)

	pending := storage.NewPartitionSet()
	pending.Add(part)

	client := &fakeS3{}
	u := newWithClient(client, "exports", "data/", db, pending)

	u.uploadPending(ctx)

	require.Len(t, client.puts, 1)
	body, ok := client.puts["data/apg_prices/year=2024/month=03/day=01/values.csv"]
	require.True(t, ok)
	assert.Equal(t,
		"delivery_from,delivery_to,series,value,scraped_at\n"+
			"2024-03-01T12:00:00Z,2024-03-01T12:15:00Z,price,42.5,2024-03-01T12:01:00Z\n",
		string(body))
	assert.Equal(t, 0, pending.Len(), "uploaded partition is not requeued")
}

func TestUploaderRendersBidsCSV(t *testing.T) {
	ctx := context.Background()

	part := storage.Partition{Scraper: "apg_bids", Kind: storage.PartitionBids, Year: 2024, Month: 3, Day: 1}
	start, end := part.DayRange()

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	db := &storagemock.MockDatabase{}
	db.On("GetBids", mock.Anything, "apg_bids", start, end).Return([]storage.BidRow{{
		DeliveryFrom: from,
		DeliveryTo:   from.Add(4 * time.Hour),
		Bid: types.Bid{
			Type:      types.BidTypeSecondary,
			Direction: types.DirectionPositive,
			Rank:      1,
			Volume:    floatPtr(10),
		},
		ScrapedAt: from,
	}}, nil)

	pending := storage.NewPartitionSet()
	pending.Add(part)

	client := &fakeS3{}
	u := newWithClient(client, "exports", "", db, pending)

	u.uploadPending(ctx)

	require.Len(t, client.puts, 1)
	body := client.puts["data/apg_bids/year=2024/month=03/day=01/bids.csv"]
	// an unpriced bid renders an empty price cell, not a zero
	assert.Equal(t,
		"delivery_from,delivery_to,product,direction,rank,price,volume,scraped_at\n"+
			"2024-03-01T00:00:00Z,2024-03-01T04:00:00Z,secondary-regulation-energy,positive,1,,10,2024-03-01T00:00:00Z\n",
		string(body))
}

func TestUploaderSkipsEmptyPartitions(t *testing.T) {
	ctx := context.Background()

	part := storage.Partition{Scraper: "apg_prices", Kind: storage.PartitionValues, Year: 2024, Month: 3, Day: 1}
	db := &storagemock.MockDatabase{}
	db.On("GetValues", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]storage.ValueRow{}, nil)

	pending := storage.NewPartitionSet()
	pending.Add(part)

	client := &fakeS3{}
	u := newWithClient(client, "exports", "", db, pending)

	u.uploadPending(ctx)

	assert.Empty(t, client.puts)
	assert.Equal(t, 0, pending.Len(), "empty partitions drain without retry")
}

func TestUploaderRequeuesFailures(t *testing.T) {
	ctx := context.Background()

	part := storage.Partition{Scraper: "apg_prices", Kind: storage.PartitionValues, Year: 2024, Month: 3, Day: 1}
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &storagemock.MockDatabase{}
	db.On("GetValues", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]storage.ValueRow{{
		DeliveryFrom: from,
		DeliveryTo:   from.Add(15 * time.Minute),
		Series:       "price",
		Value:        1,
		ScrapedAt:    from,
	}}, nil)

	pending := storage.NewPartitionSet()
	pending.Add(part)

	client := &fakeS3{err: errors.New("bucket unavailable")}
	u := newWithClient(client, "exports", "", db, pending)

	u.uploadPending(ctx)
	assert.Equal(t, 1, pending.Len(), "failed partition comes back for the next cycle")

	// next cycle succeeds and clears the backlog
	client.err = nil
	u.uploadPending(ctx)
	assert.Equal(t, 0, pending.Len())
	assert.Len(t, client.puts, 1)
}
