// Package uploader ships changed scraper-day partitions to an S3 (or
// S3-compatible) bucket as CSV exports. The storage layer marks partitions
// dirty as it writes; the uploader drains that set on a fixed cycle and
// re-queues anything that failed so no partition is lost to a transient
// outage.
package uploader

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ve-energy/scrapers/pkg/log"
	"github.com/ve-energy/scrapers/pkg/storage"
)

const defaultRegion = "eu-central"

// s3API is the slice of the S3 client the uploader needs; tests substitute a
// fake.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader exports dirty partitions from storage and puts them to a bucket.
type Uploader struct {
	client   s3API
	bucket   string
	prefix   string
	db       storage.Database
	pending  *storage.PartitionSet
	interval time.Duration
}

// New builds an Uploader with a real S3 client. Credentials come from
// S3_ACCESS_KEY/S3_SECRET_KEY when set, otherwise the default AWS chain. A
// non-empty endpoint switches to path-style addressing for S3-compatible
// stores (Hetzner, MinIO).
func New(ctx context.Context, bucket, region, endpoint, prefix string, db storage.Database, pending *storage.PartitionSet) (*Uploader, error) {
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// required by most S3-compatible services
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, bucket, prefix, db, pending), nil
}

func newWithClient(client s3API, bucket, prefix string, db storage.Database, pending *storage.PartitionSet) *Uploader {
	if prefix == "" {
		prefix = "data/"
	}
	return &Uploader{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		db:       db,
		pending:  pending,
		interval: time.Minute,
	}
}

// Run uploads pending partitions on a fixed cycle until ctx is canceled.
func (u *Uploader) Run(ctx context.Context) {
	log.Ctx(ctx).InfoContext(ctx, "starting s3 uploader", slog.String("bucket", u.bucket))

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.interval):
		}
		u.uploadPending(ctx)
	}
}

func (u *Uploader) uploadPending(ctx context.Context) {
	partitions := u.pending.Drain()
	if len(partitions) == 0 {
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "uploading partitions", slog.Int("count", len(partitions)))

	var failed []storage.Partition
	for _, p := range partitions {
		if err := u.uploadPartition(ctx, p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to upload partition, will retry next cycle",
				slog.String("key", p.Key()), slog.Any("error", err))
			failed = append(failed, p)
		}
	}
	if len(failed) > 0 {
		u.pending.Requeue(failed)
	}
}

func (u *Uploader) uploadPartition(ctx context.Context, p storage.Partition) error {
	start, end := p.DayRange()

	var body []byte
	switch p.Kind {
	case storage.PartitionValues:
		rows, err := u.db.GetValues(ctx, p.Scraper, start, end)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		body = renderValuesCSV(rows)
	case storage.PartitionBids:
		rows, err := u.db.GetBids(ctx, p.Scraper, start, end)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		body = renderBidsCSV(rows)
	default:
		return fmt.Errorf("unknown partition kind %q", p.Kind)
	}

	key := u.prefix + p.Key()
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).InfoContext(ctx, "uploaded partition", slog.String("key", key))
	return nil
}

func renderValuesCSV(rows []storage.ValueRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"delivery_from", "delivery_to", "series", "value", "scraped_at"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.DeliveryFrom.Format(time.RFC3339),
			r.DeliveryTo.Format(time.RFC3339),
			r.Series,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.ScrapedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func renderBidsCSV(rows []storage.BidRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"delivery_from", "delivery_to", "product", "direction", "rank", "price", "volume", "scraped_at"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.DeliveryFrom.Format(time.RFC3339),
			r.DeliveryTo.Format(time.RFC3339),
			string(r.Bid.Type),
			string(r.Bid.Direction),
			strconv.Itoa(r.Bid.Rank),
			formatOptional(r.Bid.Price),
			formatOptional(r.Bid.Volume),
			r.ScrapedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
