package withdraw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{"redis": redisStore, "memory": NewMemoryStore()}
}

func testSession(k1, cardID string) Session {
	now := time.Now().UTC()
	return Session{K1: k1, CardID: cardID, UID: "04a1b2c3d4e5f6", Counter: 5, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
}

func TestStoreClaimIsSingleShot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession("k1-a", "card-1")
			if err := store.Create(ctx, s); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := store.Create(ctx, s); !errors.Is(err, ErrSessionExists) {
				t.Fatalf("expected collision, got %v", err)
			}
			got, err := store.Claim(ctx, "k1-a")
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if got.CardID != "card-1" || got.Counter != 5 {
				t.Fatalf("unexpected session: %+v", got)
			}
			if _, err := store.Claim(ctx, "k1-a"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected second claim to miss, got %v", err)
			}
		})
	}
}

func TestStoreRestore(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession("k1-b", "card-1")
			_ = store.Create(ctx, s)
			claimed, _ := store.Claim(ctx, "k1-b")
			if err := store.Restore(ctx, claimed); err != nil {
				t.Fatalf("restore: %v", err)
			}
			if _, err := store.Claim(ctx, "k1-b"); err != nil {
				t.Fatalf("claim after restore: %v", err)
			}

			elapsed := testSession("k1-c", "card-1")
			elapsed.ExpiresAt = time.Now().Add(-time.Second)
			if err := store.Restore(ctx, elapsed); err != nil {
				t.Fatalf("restore elapsed: %v", err)
			}
			if _, err := store.Claim(ctx, "k1-c"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("elapsed session must not come back, got %v", err)
			}
		})
	}
}

func TestStoreDeleteByCard(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.Create(ctx, testSession("k1-1", "card-1"))
			_ = store.Create(ctx, testSession("k1-2", "card-1"))
			_ = store.Create(ctx, testSession("k1-3", "card-2"))

			if err := store.DeleteByCard(ctx, "card-1"); err != nil {
				t.Fatalf("delete by card: %v", err)
			}
			for _, k1 := range []string{"k1-1", "k1-2"} {
				if _, err := store.Claim(ctx, k1); !errors.Is(err, ErrSessionNotFound) {
					t.Fatalf("%s: expected cancelled, got %v", k1, err)
				}
			}
			if _, err := store.Claim(ctx, "k1-3"); err != nil {
				t.Fatalf("other card's session should survive: %v", err)
			}
		})
	}
}

func TestRedisStoreExpiresWithWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, testSession("k1-ttl", "card-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL(sessionPrefix + "k1-ttl"); ttl <= 4*time.Minute || ttl > 5*time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	mr.FastForward(6 * time.Minute)
	if _, err := store.Claim(ctx, "k1-ttl"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session gone, got %v", err)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, testSession("k1-old", "card-1"))
	_ = store.Create(ctx, testSession("k1-new", "card-1"))

	removed, err := store.Sweep(ctx, time.Now().Add(10*time.Minute))
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 swept, got %d (%v)", removed, err)
	}
	if removed, _ := store.Sweep(ctx, time.Now()); removed != 0 {
		t.Fatalf("expected nothing left, got %d", removed)
	}
}
