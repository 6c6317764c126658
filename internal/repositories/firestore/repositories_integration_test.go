//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

func TestCreditRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "credit-test")
	repo, err := NewCreditRepository(provider)
	if err != nil {
		t.Fatalf("new credit repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := repo.LastTransaction(ctx, 7, ""); !isRepoNotFound(err) {
		t.Fatalf("expected not found before the first append, got %v", err)
	}

	first := domain.CreditTransaction{
		ID: "t1", UserID: 7, Sequence: 1, Amount: decimal.RequireFromString("10"),
		Balance: decimal.RequireFromString("10"), Currency: "EUR", Reason: domain.CreditReasonManual,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.AppendTransaction(ctx, first, repositories.CreditHead{}); err != nil {
		t.Fatalf("append first: %v", err)
	}

	second := first
	second.ID, second.Sequence = "t2", 2
	second.Amount = decimal.RequireFromString("-3.50")
	second.Balance = decimal.RequireFromString("6.50")
	if err := repo.AppendTransaction(ctx, second, repositories.CreditHead{}); err == nil {
		t.Fatalf("expected conflict for a stale head")
	}
	if err := repo.AppendTransaction(ctx, second, repositories.CreditHead{Sequence: 1, Balance: first.Balance}); err != nil {
		t.Fatalf("append second: %v", err)
	}

	txns, err := repo.ListTransactions(ctx, 7, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 2 || txns[1].Sequence != 2 || !txns[1].Balance.Equal(second.Balance) {
		t.Fatalf("unexpected transactions %+v", txns)
	}

	last, err := repo.LastTransaction(ctx, 7, "")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last.ID != "t2" {
		t.Fatalf("expected t2 to be last, got %s", last.ID)
	}

	other, err := repo.ListTransactions(ctx, 7, "sports")
	if err != nil {
		t.Fatalf("list cost center: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected cost centers to be separate, got %d", len(other))
	}
}

func TestHistoryRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "history-test")
	repo, err := NewHistoryRepository(provider)
	if err != nil {
		t.Fatalf("new history repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	record := domain.HistoryRecord{
		ID: "h1", UserID: 7, Component: "mod_booking", Area: "option", ItemID: 12,
		Price: decimal.RequireFromString("19.90"), Currency: "EUR", Identifier: 100,
		PaymentMethod: domain.PaymentMethodOnline, PaymentStatus: domain.PaymentStatusSuccess,
		CreatedAt: created, UpdatedAt: created,
	}
	if err := repo.Insert(ctx, record); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, record); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	latest, err := repo.FindLatest(ctx, 7, record.Key())
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if !latest.Price.Equal(record.Price) {
		t.Fatalf("expected price to round-trip, got %s", latest.Price)
	}
	count, err := repo.CountPaid(ctx, 7, record.Key())
	if err != nil || count != 1 {
		t.Fatalf("expected one paid record, got %d (%v)", count, err)
	}

	if _, err := repo.MarkCanceled(ctx, "h1", created.Add(time.Hour), 100); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = repo.MarkCanceled(ctx, "h1", created.Add(2*time.Hour), 100)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on second cancel, got %v", err)
	}
	if _, err := repo.FindLatest(ctx, 7, record.Key()); !isRepoNotFound(err) {
		t.Fatalf("expected canceled record to be skipped, got %v", err)
	}
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "checkout", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
