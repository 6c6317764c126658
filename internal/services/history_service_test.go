package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories/memory"
)

type stubSummaryExporter struct {
	exported []CashSummary
	err      error
}

func (s *stubSummaryExporter) ExportCashSummary(_ context.Context, summary CashSummary) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.exported = append(s.exported, summary)
	return "gs://summaries/" + summary.Day.Format(time.DateOnly) + ".csv", nil
}

func TestHistoryServiceListHistory(t *testing.T) {
	history := memory.NewHistoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer"} {
		if err := history.Insert(ctx, domain.HistoryRecord{ID: id, UserID: 7, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := history.Insert(ctx, domain.HistoryRecord{ID: "foreign", UserID: 8, CreatedAt: base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	service, err := NewHistoryService(HistoryServiceDeps{
		History:     history,
		Ledger:      memory.NewLedgerRepository(),
		Permissions: stubPermissions{cashiers: map[int64]bool{cashierID: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing history service: %v", err)
	}

	records, err := service.ListHistory(ctx, domain.Self(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[0].ID != "newer" || records[1].ID != "older" {
		t.Fatalf("unexpected records %+v", records)
	}

	if _, err := service.ListHistory(ctx, ActingContext{OperatorID: 8, TargetUserID: 7}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := service.ListHistory(ctx, cashierFor(7)); err != nil {
		t.Fatalf("expected cashier access, got %v", err)
	}
}

func TestHistoryServiceDailySummary(t *testing.T) {
	ledger := memory.NewLedgerRepository()
	ctx := context.Background()
	vienna, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, vienna)

	entries := []domain.LedgerEntry{
		{PaymentMethod: domain.PaymentMethodCashierCash, PaymentStatus: domain.PaymentStatusSuccess, Price: dec("30"), Currency: "EUR", CreatedAt: day.Add(9 * time.Hour)},
		{PaymentMethod: domain.PaymentMethodCashierCash, PaymentStatus: domain.PaymentStatusSuccess, Price: dec("20"), Credits: dec("5"), Currency: "EUR", CreatedAt: day.Add(10 * time.Hour)},
		{PaymentMethod: domain.PaymentMethodOnline, PaymentStatus: domain.PaymentStatusSuccess, Price: dec("12.50"), Currency: "EUR", CreatedAt: day.Add(11 * time.Hour)},
		{PaymentMethod: domain.PaymentMethodCreditsPaidCash, PaymentStatus: domain.PaymentStatusSuccess, Price: dec("-8"), Currency: "EUR", CreatedAt: day.Add(12 * time.Hour)},
		{PaymentMethod: domain.PaymentMethodCashierCash, PaymentStatus: domain.PaymentStatusCanceled, Price: dec("-30"), Credits: dec("30"), Currency: "EUR", CreatedAt: day.Add(13 * time.Hour)},
		// Belongs to the previous local day although it is on the same UTC date.
		{PaymentMethod: domain.PaymentMethodCashierCash, PaymentStatus: domain.PaymentStatusSuccess, Price: dec("99"), Currency: "EUR", CreatedAt: day.Add(-30 * time.Minute)},
	}
	for _, entry := range entries {
		if err := ledger.Append(ctx, entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	exporter := &stubSummaryExporter{}
	service, err := NewHistoryService(HistoryServiceDeps{
		History:     memory.NewHistoryRepository(),
		Ledger:      ledger,
		Permissions: stubPermissions{cashiers: map[int64]bool{cashierID: true}},
		Exporter:    exporter,
		Location:    vienna,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing history service: %v", err)
	}

	if _, err := service.DailySummary(ctx, domain.Self(7), day); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	summary, err := service.DailySummary(ctx, cashierFor(0), day.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Lines) != 3 {
		t.Fatalf("expected 3 summary lines, got %+v", summary.Lines)
	}
	want := map[PaymentMethod]struct {
		count  int
		amount string
	}{
		domain.PaymentMethodCashierCash:     {2, "45"},
		domain.PaymentMethodCreditsPaidCash: {1, "-8"},
		domain.PaymentMethodOnline:          {1, "12.50"},
	}
	for _, line := range summary.Lines {
		expected, ok := want[line.PaymentMethod]
		if !ok {
			t.Fatalf("unexpected line %+v", line)
		}
		if line.Count != expected.count {
			t.Fatalf("%s: expected %d entries, got %d", line.PaymentMethod, expected.count, line.Count)
		}
		assertDecimal(t, string(line.PaymentMethod), line.Amount, expected.amount)
	}
	assertDecimal(t, "total", summary.Total, "49.50")

	location, err := service.ExportDailySummary(ctx, cashierFor(0), day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if location != "gs://summaries/2024-05-10.csv" || len(exporter.exported) != 1 {
		t.Fatalf("unexpected export %q %d", location, len(exporter.exported))
	}
}

func TestHistoryServiceExportRequiresExporter(t *testing.T) {
	service, err := NewHistoryService(HistoryServiceDeps{
		History:     memory.NewHistoryRepository(),
		Ledger:      memory.NewLedgerRepository(),
		Permissions: stubPermissions{cashiers: map[int64]bool{cashierID: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing history service: %v", err)
	}
	if _, err := service.ExportDailySummary(context.Background(), cashierFor(0), time.Now()); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("expected ErrHistoryUnavailable, got %v", err)
	}
}

func TestHistoryServiceListLedgerUsesLocalDay(t *testing.T) {
	ledger := memory.NewLedgerRepository()
	ctx := context.Background()
	vienna, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	// 2024-05-10 in Vienna spans 2024-05-09T22:00Z to 2024-05-10T22:00Z.
	rows := []LedgerEntry{
		{ID: "late", CreatedAt: time.Date(2024, 5, 10, 21, 30, 0, 0, time.UTC)},
		{ID: "early", CreatedAt: time.Date(2024, 5, 9, 22, 30, 0, 0, time.UTC)},
		{ID: "before", CreatedAt: time.Date(2024, 5, 9, 21, 59, 0, 0, time.UTC)},
		{ID: "after", CreatedAt: time.Date(2024, 5, 10, 22, 0, 0, 0, time.UTC)},
	}
	for _, row := range rows {
		if err := ledger.Append(ctx, row); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	service, err := NewHistoryService(HistoryServiceDeps{
		History:     memory.NewHistoryRepository(),
		Ledger:      ledger,
		Permissions: stubPermissions{cashiers: map[int64]bool{cashierID: true}},
		Location:    vienna,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing history service: %v", err)
	}

	if _, err := service.ListLedger(ctx, domain.Self(7), time.Date(2024, 5, 10, 12, 0, 0, 0, vienna)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	entries, err := service.ListLedger(ctx, cashierFor(0), time.Date(2024, 5, 10, 12, 0, 0, 0, vienna))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "early" || entries[1].ID != "late" {
		t.Fatalf("unexpected ledger rows %+v", entries)
	}
}
