package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, server
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "7|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	if res, _ = store.Reserve(ctx, "7|k", "fp", fixedTime, time.Hour); res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v", res.State)
	}
	if _, err := store.Reserve(ctx, "7|k", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{"ok":true}`)}
	if err := store.SaveResponse(ctx, "7|k", "fp", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "7|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", res, err)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected stored response %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("expected hop-by-hop headers to be dropped")
	}

	// Completed records are not released.
	if err := store.Release(ctx, "7|k", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if res, _ = store.Reserve(ctx, "7|k", "fp", fixedTime, time.Hour); res.State != ReservationStateCompleted {
		t.Fatalf("expected completed record to survive release")
	}

	server.FastForward(2 * time.Hour)
	if res, _ = store.Reserve(ctx, "7|k", "other", fixedTime, time.Hour); res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %v", res.State)
	}
}

func TestRedisStoreReleasePending(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if res, _ := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour); res.State != ReservationStateNew {
		t.Fatalf("expected released key to be claimable again, got %v", res.State)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, server := newRedisStore(t)
	server.Close()
	if _, err := store.Reserve(context.Background(), "k", "fp", fixedTime, time.Hour); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
