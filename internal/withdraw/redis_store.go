package withdraw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix   = "boltcard:session:"
	cardIndexPrefix = "boltcard:card-sessions:"
)

// RedisStore keeps sessions as JSON values with a TTL equal to their window,
// plus a per-card set used to cancel a card's sessions.
type RedisStore struct {
	cache *redis.Client
	now   func() time.Time
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(cache *redis.Client) *RedisStore {
	return &RedisStore{cache: cache, now: time.Now}
}

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	return r.put(ctx, s, ErrSessionExists)
}

func (r *RedisStore) Claim(ctx context.Context, k1 string) (Session, error) {
	raw, err := r.cache.GetDel(ctx, sessionPrefix+k1).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("claim session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	r.cache.SRem(ctx, cardIndexPrefix+s.CardID, s.K1)
	return s, nil
}

func (r *RedisStore) Restore(ctx context.Context, s Session) error {
	err := r.put(ctx, s, nil)
	if errors.Is(err, errSessionElapsed) {
		return nil
	}
	return err
}

var errSessionElapsed = errors.New("session elapsed")

func (r *RedisStore) put(ctx context.Context, s Session, onConflict error) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errSessionElapsed
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.cache.SetNX(ctx, sessionPrefix+s.K1, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return onConflict
	}
	index := cardIndexPrefix + s.CardID
	pipe := r.cache.TxPipeline()
	pipe.SAdd(ctx, index, s.K1)
	pipe.Expire(ctx, index, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteByCard(ctx context.Context, cardID string) error {
	index := cardIndexPrefix + cardID
	k1s, err := r.cache.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("list card sessions: %w", err)
	}
	keys := make([]string, 0, len(k1s)+1)
	for _, k1 := range k1s {
		keys = append(keys, sessionPrefix+k1)
	}
	keys = append(keys, index)
	if err := r.cache.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete card sessions: %w", err)
	}
	return nil
}

// Sweep is a no-op: session keys expire on their own.
func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
