package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories/memory"
)

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID int64) (domain.Cart, error)
	saveFunc   func(ctx context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error)
	deleteFunc func(ctx context.Context, userID int64) error
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID int64) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{}, repositories.NotFound("carts.get")
}

func (s *stubCartRepository) SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error) {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, cart, ttl)
	}
	cart.Version++
	return cart, nil
}

func (s *stubCartRepository) DeleteCart(ctx context.Context, userID int64) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID)
	}
	return nil
}

func newTestCartStore(t *testing.T, repo repositories.CartRepository, deps CartStoreDeps) CartStore {
	t.Helper()
	if deps.Clock == nil {
		now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
		deps.Clock = func() time.Time { return now }
	}
	deps.Repository = repo
	if deps.Pricer == nil {
		deps.Pricer = newTestPricer(t, PricingEngineDeps{})
	}
	store, err := NewCartStore(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing cart store: %v", err)
	}
	return store
}

func TestCartStoreAddItemIsIdempotentPerKey(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	scheduler := &stubScheduler{}
	store := newTestCartStore(t, memory.NewCartRepository(func() time.Time { return now }), CartStoreDeps{
		Scheduler: scheduler,
		TTL:       20 * time.Minute,
		Clock:     func() time.Time { return now },
	})
	ctx := context.Background()

	item := bookableItem(1, "10")
	item.UserID = 7
	cart, verdict, err := store.AddItem(ctx, item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != domain.VerdictSuccess || len(cart.Items) != 1 {
		t.Fatalf("expected success with one item, got %s and %d items", verdict, len(cart.Items))
	}
	if !cart.ExpiresAt.Equal(now.Add(20 * time.Minute)) {
		t.Fatalf("expected expiration %s, got %s", now.Add(20*time.Minute), cart.ExpiresAt)
	}

	cart, verdict, err = store.AddItem(ctx, item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != domain.VerdictAlreadyInCart {
		t.Fatalf("expected ALREADYINCART, got %s", verdict)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected cart to keep one item, got %d", len(cart.Items))
	}

	if len(scheduler.calls) != 1 {
		t.Fatalf("expected one expiry task, got %d", len(scheduler.calls))
	}
	call := scheduler.calls[0]
	if call.task != TaskExpireCart || call.userID != 7 || call.payload["userId"] != "7" {
		t.Fatalf("unexpected expiry task %+v", call)
	}
	if !call.runAt.Equal(now.Add(20 * time.Minute)) {
		t.Fatalf("expected expiry at %s, got %s", now.Add(20*time.Minute), call.runAt)
	}
}

func TestCartStoreRejectsItemsBeyondCapacity(t *testing.T) {
	store := newTestCartStore(t, memory.NewCartRepository(nil), CartStoreDeps{MaxItems: 2})
	ctx := context.Background()

	for id := int64(1); id <= 2; id++ {
		item := bookableItem(id, "10")
		item.UserID = 7
		if _, verdict, err := store.AddItem(ctx, item); err != nil || verdict != domain.VerdictSuccess {
			t.Fatalf("expected item %d to be added, got %s, %v", id, verdict, err)
		}
	}
	fee := CartItem{Component: domain.ComponentShoppingCart, Area: domain.AreaBookingFee, ItemID: domain.BookingFeeItemID, UserID: 7, Price: dec("1")}
	if _, verdict, err := store.AddItem(ctx, fee); err != nil || verdict != domain.VerdictSuccess {
		t.Fatalf("expected auxiliary item to bypass capacity, got %s, %v", verdict, err)
	}

	third := bookableItem(3, "10")
	third.UserID = 7
	cart, verdict, err := store.AddItem(ctx, third)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != domain.VerdictCartIsFull {
		t.Fatalf("expected CARTISFULL, got %s", verdict)
	}
	if cart.PurchasableCount() != 2 {
		t.Fatalf("expected 2 purchasable items, got %d", cart.PurchasableCount())
	}
}

func TestCartStoreDeleteItemDropsOrphanedAuxiliaryItems(t *testing.T) {
	store := newTestCartStore(t, memory.NewCartRepository(nil), CartStoreDeps{})
	ctx := context.Background()

	item := bookableItem(1, "10")
	item.UserID = 7
	if _, _, err := store.AddItem(ctx, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fee := CartItem{Component: domain.ComponentShoppingCart, Area: domain.AreaBookingFee, ItemID: domain.BookingFeeItemID, UserID: 7, Price: dec("1")}
	if _, _, err := store.AddItem(ctx, fee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.DeleteItem(ctx, 7, itemKey(2)); !errors.Is(err, ErrItemNotInCart) {
		t.Fatalf("expected ErrItemNotInCart, got %v", err)
	}

	cart, err := store.DeleteItem(ctx, 7, itemKey(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
	stored, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored.Items) != 0 || stored.Version != 0 {
		t.Fatalf("expected cart to be deleted, got %+v", stored)
	}
}

func TestCartStoreDropsRebookingCreditWithoutMarkers(t *testing.T) {
	store := newTestCartStore(t, memory.NewCartRepository(nil), CartStoreDeps{})
	ctx := context.Background()

	marker := CartItem{Component: domain.ComponentShoppingCart, Area: domain.AreaRebookItem, ItemID: 99, UserID: 7}
	credit := CartItem{Component: domain.ComponentShoppingCart, Area: domain.AreaRebookingCredit, ItemID: domain.RebookingCreditItemID, UserID: 7, Price: dec("-5")}
	item := bookableItem(1, "10")
	item.UserID = 7
	for _, add := range []CartItem{item, marker, credit} {
		if _, _, err := store.AddItem(ctx, add); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	cart, err := store.DeleteItem(ctx, 7, marker.Key())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Key() != itemKey(1) {
		t.Fatalf("expected only the purchasable item to remain, got %+v", cart.Items)
	}
}

func TestCartStoreRetriesConflictingWrites(t *testing.T) {
	attempts := 0
	repo := &stubCartRepository{
		saveFunc: func(_ context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error) {
			attempts++
			if ttl != defaultCartTTL+defaultCartRetention {
				t.Fatalf("unexpected ttl %s", ttl)
			}
			if attempts < 2 {
				return domain.Cart{}, repositories.Conflict("carts.save", errors.New("version moved"))
			}
			cart.Version++
			return cart, nil
		},
	}
	store := newTestCartStore(t, repo, CartStoreDeps{})

	item := bookableItem(1, "10")
	item.UserID = 7
	if _, verdict, err := store.AddItem(context.Background(), item); err != nil || verdict != domain.VerdictSuccess {
		t.Fatalf("expected success after retry, got %s, %v", verdict, err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestCartStoreGivesUpAfterRepeatedConflicts(t *testing.T) {
	attempts := 0
	repo := &stubCartRepository{
		saveFunc: func(context.Context, domain.Cart, time.Duration) (domain.Cart, error) {
			attempts++
			return domain.Cart{}, repositories.Conflict("carts.save", errors.New("version moved"))
		},
	}
	store := newTestCartStore(t, repo, CartStoreDeps{})

	item := bookableItem(1, "10")
	item.UserID = 7
	if _, _, err := store.AddItem(context.Background(), item); !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
	if attempts != maxCartWriteAttempts {
		t.Fatalf("expected %d attempts, got %d", maxCartWriteAttempts, attempts)
	}
}

func TestCartStoreTranslatesBackendFailures(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(context.Context, int64) (domain.Cart, error) {
			return domain.Cart{}, repositories.Unavailable("carts.get", errors.New("redis down"))
		},
	}
	store := newTestCartStore(t, repo, CartStoreDeps{})

	if _, err := store.Get(context.Background(), 7); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
}

func TestCartStoreRefreshCreditLeavesMissingCartAlone(t *testing.T) {
	saves := 0
	repo := &stubCartRepository{
		saveFunc: func(_ context.Context, cart domain.Cart, _ time.Duration) (domain.Cart, error) {
			saves++
			return cart, nil
		},
	}
	store := newTestCartStore(t, repo, CartStoreDeps{})

	if err := store.RefreshCredit(context.Background(), 7, domain.CreditView{Balance: dec("3")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saves != 0 {
		t.Fatalf("expected no write for a missing cart, got %d", saves)
	}
}
