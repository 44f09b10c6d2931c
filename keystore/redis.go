package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Fixed window: increment the bucket counter and arm the TTL on the first
// hit so an abandoned bucket ages out on its own.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Sliding window: prune timestamps older than the trailing window, then admit
// only while the survivor count is under the limit. Denied calls add nothing,
// so rejections cannot keep the window saturated. Returns
// {admitted, count, oldestMs}.
var slidingWindowScript = redis.NewScript(`
local windowMs = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, nowMs - windowMs)
local count = redis.call("ZCARD", KEYS[1])
local admitted = 0
if count < limit then
  redis.call("ZADD", KEYS[1], nowMs, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], windowMs)
  admitted = 1
  count = count + 1
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local oldestMs = nowMs
if oldest[2] then
  oldestMs = tonumber(oldest[2])
end
return {admitted, count, oldestMs}
`)

// Compare-and-delete: release a lock only while we still hold it.
var compareDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// OpTimeout bounds each store operation so a stalled Redis degrades
	// into the caller's fallback policy instead of hanging the request.
	// Defaults to 500ms; negative disables the bound.
	OpTimeout time.Duration
}

// Redis is the production Store implementation. Atomicity of the window
// checks and compare-and-delete comes from server-side scripts, which
// go-redis runs via EVALSHA with an EVAL fallback on cold script caches.
type Redis struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

// NewRedis creates a Redis-backed store from config.
func NewRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedis(rdb, cfg.OpTimeout)
}

// NewRedisFromClient wraps an existing client, for callers that manage their
// own connection options or share a client across subsystems.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return newRedis(rdb, 0)
}

func newRedis(rdb *redis.Client, opTimeout time.Duration) *Redis {
	if opTimeout == 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &Redis{rdb: rdb, opTimeout: opTimeout}
}

func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

// Get returns the value at key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores val under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

// SetNX stores val only if key is absent and reports whether it did.
func (r *Redis) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.SetNX(ctx, key, val, ttl).Result()
}

// Del removes keys and returns how many existed.
func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Del(ctx, keys...).Result()
}

// Incr atomically increments the counter at key.
func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Incr(ctx, key).Result()
}

// SAdd adds members to the set at key and arms its TTL upward. The NX/GT
// expire pair covers both a fresh set (no TTL yet) and an existing one whose
// TTL must only ever extend.
func (r *Redis) SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	pipe := r.rdb.Pipeline()
	pipe.SAdd(ctx, key, vals...)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
		pipe.ExpireGT(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// SMembers returns the members of the set at key.
func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.SMembers(ctx, key).Result()
}

// Keys returns keys matching pattern using SCAN, never the blocking KEYS
// command.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var (
		out    []string
		cursor uint64
	)
	for {
		batch, next, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// CompareAndDelete removes key only if it still holds expect.
func (r *Redis) CompareAndDelete(ctx context.Context, key string, expect []byte) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	n, err := compareDeleteScript.Run(ctx, r.rdb, []string{key}, string(expect)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FixedWindow records a call in the bucket containing now and decides
// admission. The counter keeps counting past the limit, so Remaining ramps to
// zero and stays there until the bucket rolls over.
func (r *Redis) FixedWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	start := windowStart(now, window)
	count, err := fixedWindowScript.Run(ctx, r.rdb, []string{bucketKey(key, start)}, window.Milliseconds()).Int64()
	if err != nil {
		return WindowResult{}, err
	}
	return fixedResult(count, limit, start, window), nil
}

// SlidingWindow records a call against the trailing window ending at now and
// decides admission. Member identity is a fresh UUID so two calls in the same
// millisecond still count separately.
func (r *Redis) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	vals, err := slidingWindowScript.Run(ctx, r.rdb, []string{key},
		window.Milliseconds(), limit, now.UnixMilli(), uuid.NewString()).Int64Slice()
	if err != nil {
		return WindowResult{}, err
	}
	if len(vals) != 3 {
		return WindowResult{}, errors.New("keystore: unexpected sliding window reply")
	}
	return slidingResult(vals[0] == 1, vals[1], vals[2], limit, window), nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
