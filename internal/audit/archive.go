package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// LedgerReader lists ledger records for export.
type LedgerReader interface {
	ListActionsSince(ctx context.Context, since time.Time) ([]*store.ActionRecord, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archiver exports ledger records to S3 as zstd-compressed JSON lines at
// <prefix>/ledger/YYYY/MM/DD/ledger-<unix>.jsonl.zst.
type Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Archiver loads AWS configuration from the environment (region,
// profile, static keys) and returns an Archiver for bucket.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}, nil
}

// WriteJSONL writes one JSON object per record to w, zstd-compressed.
func WriteJSONL(w io.Writer, records []*store.ActionRecord) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	je := json.NewEncoder(enc)
	for _, rec := range records {
		if err := je.Encode(rec); err != nil {
			enc.Close()
			return fmt.Errorf("encode record %d: %w", rec.ID, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush zstd encoder: %w", err)
	}
	return nil
}

// ObjectKey returns the archive key for an export taken at ts.
func (a *Archiver) ObjectKey(ts time.Time) string {
	ts = ts.UTC()
	year, month, day := ts.Date()
	return path.Join(a.prefix, "ledger",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("ledger-%d.jsonl.zst", ts.Unix()),
	)
}

// Archive exports every record at or after since and uploads it. It
// returns the object key and the number of records written; nothing is
// uploaded when there are no records.
func (a *Archiver) Archive(ctx context.Context, ledger LedgerReader, since, now time.Time) (string, int, error) {
	records, err := ledger.ListActionsSince(ctx, since)
	if err != nil {
		return "", 0, fmt.Errorf("read ledger: %w", err)
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, records); err != nil {
		return "", 0, err
	}

	key := a.ObjectKey(now)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(buf.Bytes()),
		ContentType:          aws.String("application/x-ndjson"),
		ContentEncoding:      aws.String("zstd"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", 0, fmt.Errorf("s3 upload failed: %w", err)
	}
	return key, len(records), nil
}
