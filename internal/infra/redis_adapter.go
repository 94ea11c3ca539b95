// Package infra provides concrete infrastructure adapters for Redis.
//
// GoRedisAdapter wraps go-redis v9 and is the concrete backend for
// internal/store's State Store (C4): every Request, TrustSession,
// GrantSession, OutputPage and Account row is a JSON blob under a
// "bouncer:"-prefixed key, with native EXPIRE for TTL and sorted sets for
// the secondary indices §4.4 requires (pending-by-status, by-source).
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps go-redis v9 to implement the minimal interfaces
// expected by internal/store.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter attempts to connect to Redis using the provided options.
// Returns the adapter and any connection error (caller decides whether to
// fall back to in-memory).
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// =============================================================================
// Key-value primitives
// =============================================================================

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX sets key only if absent, returning whether it was newly set. Used by
// the grant-consumption primitive to implement "set used_commands.<cmd> from
// absent to 1" without a race.
func (a *GoRedisAdapter) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return a.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}

func (a *GoRedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return a.rdb.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.rdb.Expire(ctx, key, ttl).Err()
}

// =============================================================================
// Set / sorted-set primitives (secondary indices)
// =============================================================================

func (a *GoRedisAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return a.rdb.SAdd(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return a.rdb.SRem(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	return a.rdb.SMembers(ctx, key).Result()
}

// ZAdd adds member to a sorted-set index scored by a unix timestamp, used
// to keep "ordered by created_at desc" listings cheap.
func (a *GoRedisAdapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return a.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (a *GoRedisAdapter) ZRem(ctx context.Context, key string, member string) error {
	return a.rdb.ZRem(ctx, key, member).Err()
}

// ZRevRangeLimit returns up to limit members in descending score order.
func (a *GoRedisAdapter) ZRevRangeLimit(ctx context.Context, key string, limit int64) ([]string, error) {
	return a.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: 0,
		Count:  limit,
	}).Result()
}

// ZRangeByScoreRange returns members whose score falls in [min, max].
func (a *GoRedisAdapter) ZRangeByScoreRange(ctx context.Context, key string, min, max float64) ([]string, error) {
	return a.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

// =============================================================================
// Atomic primitives
// =============================================================================

// Incr atomically increments a counter key and returns the new value.
func (a *GoRedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.rdb.Incr(ctx, key).Result()
}

// grantConsumeScript implements §4.4's atomic compound update for grant
// consumption: set used_commands.<cmd> from absent to 1 under condition
// attribute_not_exists, simultaneously incrementing total_executions, with
// a total_executions <= max condition. KEYS[1] is the grant's used-commands
// hash key, KEYS[2] is the grant's counters hash key. Returns 1 on success,
// 0 on conflict (already used, over cap, or not active).
var grantConsumeScript = redis.NewScript(`
local used_key = KEYS[1]
local counters_key = KEYS[2]
local cmd = ARGV[1]
local allow_repeat = ARGV[2]
local max_total = tonumber(ARGV[3])
local status = redis.call('HGET', counters_key, 'status')
if status ~= 'active' then
	return 0
end
local total = tonumber(redis.call('HGET', counters_key, 'total_executions') or '0')
if total >= max_total then
	return 0
end
if allow_repeat ~= '1' then
	if redis.call('HEXISTS', used_key, cmd) == 1 then
		return 0
	end
end
redis.call('HINCRBY', used_key, cmd, 1)
redis.call('HINCRBY', counters_key, 'total_executions', 1)
return 1
`)

// ConsumeGrant runs the atomic grant-consumption script against the given
// used-commands and counters hash keys.
func (a *GoRedisAdapter) ConsumeGrant(ctx context.Context, usedKey, countersKey, cmd string, allowRepeat bool, maxTotal int) (bool, error) {
	repeat := "0"
	if allowRepeat {
		repeat = "1"
	}
	res, err := grantConsumeScript.Run(ctx, a.rdb, []string{usedKey, countersKey}, cmd, repeat, maxTotal).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// HSet/HGet back the grant counters hash used by ConsumeGrant outside the
// Lua script (status/total_executions bookkeeping on creation and decisions).
func (a *GoRedisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return a.rdb.HSet(ctx, key, values).Err()
}

func (a *GoRedisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return a.rdb.HGetAll(ctx, key).Result()
}

func (a *GoRedisAdapter) HGetAllInt(ctx context.Context, key string, field string) (int, error) {
	v, err := a.rdb.HGet(ctx, key, field).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// =============================================================================
// Pub/Sub
// =============================================================================

func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (a *GoRedisAdapter) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := a.rdb.Subscribe(ctx, channel)

	_, err := sub.Receive(ctx)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = fmt.Errorf("key not found")
