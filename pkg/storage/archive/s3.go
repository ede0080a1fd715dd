// Package archive writes rows removed by the soft-delete purger to S3 before
// they are permanently deleted.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/storage"
)

// ObjectAPI is the part of the S3 client the archiver needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archiver stores each purge batch as one newline-delimited JSON object
// under <prefix>/<table>/<yyyy>/<mm>/<dd>/.
type S3Archiver struct {
	client ObjectAPI
	bucket string
	prefix string
	now    func() time.Time
	tracer trace.Tracer
}

// NewS3Archiver builds an archiver from the S3 settings in cfg and makes sure
// the bucket exists.
func NewS3Archiver(ctx context.Context, cfg storage.Config) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	a := New(client, cfg.S3Bucket, cfg.S3Prefix)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// New wraps an existing client.
func New(client ObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		tracer: observability.Tracer("archive"),
	}
}

func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}

	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive uploads rows as one object. The key embeds the content hash, so
// retrying the same batch overwrites rather than duplicates.
func (a *S3Archiver) Archive(ctx context.Context, table string, rows []map[string]interface{}) error {
	ctx, span := a.tracer.Start(ctx, "archive.Archive", trace.WithAttributes(
		attribute.String("archive.table", table),
		attribute.Int("archive.rows", len(rows)),
	))
	defer span.End()

	body, err := encodeRows(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])
	key := a.key(table, checksum)
	span.SetAttributes(attribute.String("s3.key", key))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"table":           table,
			"rows":            fmt.Sprint(len(rows)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"table": table,
		"rows":  len(rows),
		"key":   key,
	}).Info("Archived purged rows")
	return nil
}

func (a *S3Archiver) key(table, checksum string) string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, table, day, checksum[:16]+".jsonl")
}

// encodeRows writes one JSON object per line. Byte slices from the driver
// are written as strings.
func encodeRows(rows []map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		clean := make(map[string]interface{}, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			clean[k] = v
		}
		if err := enc.Encode(clean); err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
	}
	return buf.Bytes(), nil
}
