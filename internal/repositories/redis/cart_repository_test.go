package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

func newTestRepository(t *testing.T) (*CartRepository, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, err := NewCartRepository(client, WithKeyPrefix("test-cart:"))
	if err != nil {
		t.Fatalf("unexpected error constructing repository: %v", err)
	}
	return repo, server
}

func sampleCart(userID int64) domain.Cart {
	return domain.Cart{
		UserID: userID,
		Items: []domain.CartItem{{
			Component: "mod_booking",
			Area:      "option",
			ItemID:    12,
			UserID:    userID,
			Name:      "Yoga",
			Price:     decimal.RequireFromString("19.90"),
			Currency:  "EUR",
		}},
		UseCredit: true,
	}
}

func TestCartRepositoryRoundTripsWithVersioning(t *testing.T) {
	repo, server := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.GetCart(ctx, 7); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	saved, err := repo.SaveCart(ctx, sampleCart(7), 20*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}
	if ttl := server.TTL("test-cart:7"); ttl != 20*time.Minute {
		t.Fatalf("expected ttl of 20m, got %s", ttl)
	}

	loaded, err := repo.GetCart(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Version != 1 || len(loaded.Items) != 1 || !loaded.UseCredit {
		t.Fatalf("unexpected cart %+v", loaded)
	}
	if !loaded.Items[0].Price.Equal(decimal.RequireFromString("19.90")) {
		t.Fatalf("expected price to survive encoding, got %s", loaded.Items[0].Price)
	}

	loaded.UseCredit = false
	updated, err := repo.SaveCart(ctx, loaded, 20*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
}

func TestCartRepositoryRejectsStaleVersion(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.SaveCart(ctx, sampleCart(7), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.SaveCart(ctx, first, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = repo.SaveCart(ctx, first, time.Minute)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := repo.SaveCart(ctx, sampleCart(8), time.Minute); err != nil {
		t.Fatalf("expected a fresh cart of another user to save, got %v", err)
	}
}

func TestCartRepositoryExpiresAndDeletes(t *testing.T) {
	repo, server := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.SaveCart(ctx, sampleCart(7), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server.FastForward(2 * time.Minute)
	if _, err := repo.GetCart(ctx, 7); !isNotFound(err) {
		t.Fatalf("expected expired cart to be gone, got %v", err)
	}

	if _, err := repo.SaveCart(ctx, sampleCart(7), time.Minute); err != nil {
		t.Fatalf("expected save after expiry to start from version 0, got %v", err)
	}
	if err := repo.DeleteCart(ctx, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server.Exists("test-cart:7") {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCartRepositoryReportsUnavailableBackend(t *testing.T) {
	repo, server := newTestRepository(t)
	server.Close()

	_, err := repo.GetCart(context.Background(), 7)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestNewCartRepositoryRequiresClient(t *testing.T) {
	if _, err := NewCartRepository(nil); err == nil {
		t.Fatalf("expected error without client")
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
