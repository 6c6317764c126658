package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

type stubObjectStore struct {
	bucket      string
	object      string
	contentType string
	data        string
	putErr      error
	signedFor   time.Time
}

func (s *stubObjectStore) Put(_ context.Context, bucket, object, contentType string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.bucket, s.object, s.contentType, s.data = bucket, object, contentType, string(data)
	return nil
}

func (s *stubObjectStore) SignedURL(bucket, object string, expires time.Time) (string, error) {
	s.signedFor = expires
	return "https://storage.example/" + bucket + "/" + object + "?sig=1", nil
}

func sampleSummary() domain.CashSummary {
	return domain.CashSummary{
		Day: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Lines: []domain.CashSummaryLine{
			{PaymentMethod: domain.PaymentMethodCashierCash, Currency: "EUR", Count: 2, Amount: decimal.RequireFromString("30")},
			{PaymentMethod: domain.PaymentMethodOnline, Currency: "EUR", Count: 1, Amount: decimal.RequireFromString("19.9")},
		},
		Total: decimal.RequireFromString("49.9"),
	}
}

func TestExportCashSummaryWritesCSV(t *testing.T) {
	store := &stubObjectStore{}
	now := time.Date(2024, 5, 11, 8, 0, 0, 0, time.UTC)
	exporter, err := NewSummaryExporter(store, " cart-exports ", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	location, err := exporter.ExportCashSummary(context.Background(), sampleSummary())
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if store.bucket != "cart-exports" || store.contentType != csvContentType {
		t.Fatalf("unexpected upload target %s (%s)", store.bucket, store.contentType)
	}
	if !strings.HasPrefix(store.object, "exports/cash-summaries/2024/05/10/summary-") || !strings.HasSuffix(store.object, ".csv") {
		t.Fatalf("unexpected object path %s", store.object)
	}
	if location != "gs://cart-exports/"+store.object {
		t.Fatalf("unexpected location %s", location)
	}

	expected := strings.Join([]string{
		"day,payment_method,currency,count,amount",
		"2024-05-10,cashier_cash,EUR,2,30.00",
		"2024-05-10,online,EUR,1,19.90",
		"2024-05-10,total,,,49.90",
		"",
	}, "\n")
	if store.data != expected {
		t.Fatalf("unexpected csv:\n%s", store.data)
	}
}

func TestExportCashSummarySignsDownloads(t *testing.T) {
	store := &stubObjectStore{}
	now := time.Date(2024, 5, 11, 8, 0, 0, 0, time.UTC)
	exporter, err := NewSummaryExporter(store, "cart-exports",
		WithClock(func() time.Time { return now }),
		WithSignedDownloads(30*24*time.Hour),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	location, err := exporter.ExportCashSummary(context.Background(), sampleSummary())
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if !strings.HasPrefix(location, "https://storage.example/cart-exports/exports/") {
		t.Fatalf("expected signed url, got %s", location)
	}
	if !store.signedFor.Equal(now.Add(maxDownloadExpiry)) {
		t.Fatalf("expected expiry to be capped, got %s", store.signedFor)
	}
}

func TestExportCashSummaryPropagatesUploadErrors(t *testing.T) {
	store := &stubObjectStore{putErr: errors.New("boom")}
	exporter, err := NewSummaryExporter(store, "cart-exports")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exporter.ExportCashSummary(context.Background(), sampleSummary()); err == nil {
		t.Fatalf("expected upload error")
	}
	if _, err := NewSummaryExporter(store, " "); !errors.Is(err, errInvalidBucket) {
		t.Fatalf("expected bucket validation error, got %v", err)
	}
}
