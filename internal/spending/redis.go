package spending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript adds ARGV[1] to KEYS[1] only if the result stays within
// ARGV[2]. It returns {accepted, total}.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + amount > limit then
	return {0, current}
end
local total = redis.call('INCRBY', KEYS[1], amount)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, total}
`)

// releaseScript subtracts ARGV[1] from KEYS[1], never going below zero.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if current <= amount then
	redis.call('DEL', KEYS[1])
	return 0
end
return redis.call('DECRBY', KEYS[1], amount)
`)

// RedisLedger keeps day totals in Redis counters that expire on their own.
type RedisLedger struct {
	cache    *redis.Client
	calendar Calendar
}

// NewRedisLedger constructs a Redis-backed spending ledger.
func NewRedisLedger(cache *redis.Client, calendar Calendar) *RedisLedger {
	return &RedisLedger{cache: cache, calendar: calendar}
}

func (l *RedisLedger) ttl(day string) time.Duration {
	ttl := time.Until(l.calendar.ExpiresAt(day))
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func (l *RedisLedger) Current(ctx context.Context, cardID string) (int64, error) {
	total, err := l.cache.Get(ctx, recordKey(cardID, l.calendar.Today())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily spend: %w", err)
	}
	return total, nil
}

func (l *RedisLedger) Check(ctx context.Context, cardID string, amount, limit int64) (bool, error) {
	current, err := l.Current(ctx, cardID)
	if err != nil {
		return false, err
	}
	return current+amount <= limit, nil
}

func (l *RedisLedger) Commit(ctx context.Context, cardID string, amount int64) error {
	day := l.calendar.Today()
	key := recordKey(cardID, day)
	pipe := l.cache.TxPipeline()
	pipe.IncrBy(ctx, key, amount)
	pipe.PExpire(ctx, key, l.ttl(day))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit daily spend: %w", err)
	}
	return nil
}

func (l *RedisLedger) Reserve(ctx context.Context, cardID string, amount, limit int64) (Reservation, error) {
	day := l.calendar.Today()
	res, err := reserveScript.Run(ctx, l.cache, []string{recordKey(cardID, day)},
		amount, limit, l.ttl(day).Milliseconds()).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve daily spend: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("reserve daily spend: unexpected reply %v", res)
	}
	r := Reservation{CardID: cardID, Day: day, Amount: amount, Total: res[1]}
	if res[0] != 1 {
		return r, ErrLimitExceeded
	}
	return r, nil
}

func (l *RedisLedger) Release(ctx context.Context, r Reservation) error {
	if r.Amount <= 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, l.cache, []string{recordKey(r.CardID, r.Day)}, r.Amount).Err(); err != nil {
		return fmt.Errorf("release daily spend: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires day records itself.
func (l *RedisLedger) Sweep(context.Context) (int, error) { return 0, nil }
