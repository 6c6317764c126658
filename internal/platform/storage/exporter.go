package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

const (
	csvContentType        = "text/csv; charset=utf-8"
	defaultDownloadExpiry = 15 * time.Minute
	maxDownloadExpiry     = 7 * 24 * time.Hour
)

var errInvalidBucket = errors.New("storage: bucket name is required")

// ObjectStore is the subset of Cloud Storage the exporter needs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object, contentType string, data []byte) error
	SignedURL(bucket, object string, expires time.Time) (string, error)
}

// GCSObjectStore adapts a Cloud Storage client to ObjectStore.
type GCSObjectStore struct {
	client *gcs.Client
}

// NewGCSObjectStore wraps client.
func NewGCSObjectStore(client *gcs.Client) (*GCSObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSObjectStore{client: client}, nil
}

// Put uploads data in a single request.
func (s *GCSObjectStore) Put(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

// SignedURL issues a V4 download URL using the client's credentials.
func (s *GCSObjectStore) SignedURL(bucket, object string, expires time.Time) (string, error) {
	return s.client.Bucket(bucket).SignedURL(object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
}

// Close releases the underlying client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

// SummaryExporter renders cash summaries as CSV into the exports bucket.
type SummaryExporter struct {
	store  ObjectStore
	bucket string
	expiry time.Duration
	now    func() time.Time
}

// ExporterOption customises the exporter.
type ExporterOption func(*SummaryExporter)

// WithSignedDownloads makes ExportCashSummary return a signed URL valid for expiry
// instead of the gs:// location.
func WithSignedDownloads(expiry time.Duration) ExporterOption {
	return func(e *SummaryExporter) {
		if expiry <= 0 {
			expiry = defaultDownloadExpiry
		}
		if expiry > maxDownloadExpiry {
			expiry = maxDownloadExpiry
		}
		e.expiry = expiry
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ExporterOption {
	return func(e *SummaryExporter) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewSummaryExporter constructs an exporter writing into bucket.
func NewSummaryExporter(store ObjectStore, bucket string, opts ...ExporterOption) (*SummaryExporter, error) {
	if store == nil {
		return nil, errors.New("storage: object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	exporter := &SummaryExporter{store: store, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(exporter)
		}
	}
	return exporter, nil
}

// ExportCashSummary writes the summary and returns its location.
func (e *SummaryExporter) ExportCashSummary(ctx context.Context, summary domain.CashSummary) (string, error) {
	data, err := renderCashSummary(summary)
	if err != nil {
		return "", err
	}
	now := e.now().UTC()
	fileName := fmt.Sprintf("summary-%s.csv", ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String())
	object, err := BuildObjectPath(PurposeCashSummary, PathParams{Day: summary.Day, FileName: fileName})
	if err != nil {
		return "", err
	}
	if err := e.store.Put(ctx, e.bucket, object, csvContentType, data); err != nil {
		return "", err
	}
	if e.expiry > 0 {
		signed, err := e.store.SignedURL(e.bucket, object, now.Add(e.expiry))
		if err != nil {
			return "", fmt.Errorf("storage: sign download url: %w", err)
		}
		return signed, nil
	}
	return fmt.Sprintf("gs://%s/%s", e.bucket, object), nil
}

func renderCashSummary(summary domain.CashSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	day := summary.Day.Format(time.DateOnly)
	rows := [][]string{{"day", "payment_method", "currency", "count", "amount"}}
	for _, line := range summary.Lines {
		rows = append(rows, []string{
			day,
			string(line.PaymentMethod),
			line.Currency,
			strconv.Itoa(line.Count),
			line.Amount.StringFixed(2),
		})
	}
	rows = append(rows, []string{day, "total", "", "", summary.Total.StringFixed(2)})
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("storage: render summary: %w", err)
	}
	return buf.Bytes(), nil
}
