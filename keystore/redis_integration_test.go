package keystore

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func redisStore(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	r := NewRedis(RedisConfig{Addr: addr})
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Ping(t.Context()); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}
	return r
}

func TestRedis_GetSetNotFound(t *testing.T) {
	r := redisStore(t)
	ctx := t.Context()
	key := "test:keystore:getset:" + t.Name()

	if _, err := r.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
	if err := r.Set(ctx, key, []byte("v1"), 10*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("got %q, want %q", val, "v1")
	}
	if _, err := r.Del(ctx, key); err != nil {
		t.Fatalf("Del: %v", err)
	}
}

func TestRedis_LockRoundTrip(t *testing.T) {
	r := redisStore(t)
	ctx := t.Context()
	key := "test:keystore:lock:" + t.Name()

	ok, err := r.SetNX(ctx, key, []byte("holder-a"), 10*time.Second)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if !ok {
		t.Fatal("first SetNX should win")
	}
	if ok, _ := r.SetNX(ctx, key, []byte("holder-b"), 10*time.Second); ok {
		t.Fatal("second SetNX should lose")
	}

	if ok, err := r.CompareAndDelete(ctx, key, []byte("holder-b")); err != nil || ok {
		t.Fatalf("mismatched CompareAndDelete = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := r.CompareAndDelete(ctx, key, []byte("holder-a")); err != nil || !ok {
		t.Fatalf("matching CompareAndDelete = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestRedis_FixedWindowScript(t *testing.T) {
	r := redisStore(t)
	ctx := t.Context()
	key := fmt.Sprintf("test:keystore:fixed:%s:%d", t.Name(), time.Now().UnixNano())
	now := time.Now()

	for i := int64(1); i <= 3; i++ {
		res, err := r.FixedWindow(ctx, key, 3, time.Minute, now)
		if err != nil {
			t.Fatalf("FixedWindow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if res.Count != i {
			t.Fatalf("call %d: count = %d, want %d", i, res.Count, i)
		}
	}
	res, err := r.FixedWindow(ctx, key, 3, time.Minute, now)
	if err != nil {
		t.Fatalf("FixedWindow: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("fourth call = %+v, want denied with remaining 0", res)
	}
}

func TestRedis_SlidingWindowScript(t *testing.T) {
	r := redisStore(t)
	ctx := t.Context()
	key := fmt.Sprintf("test:keystore:sliding:%s:%d", t.Name(), time.Now().UnixNano())
	now := time.Now()

	for i := int64(1); i <= 2; i++ {
		res, err := r.SlidingWindow(ctx, key, 2, time.Minute, now)
		if err != nil {
			t.Fatalf("SlidingWindow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	res, err := r.SlidingWindow(ctx, key, 2, time.Minute, now)
	if err != nil {
		t.Fatalf("SlidingWindow: %v", err)
	}
	if res.Allowed {
		t.Fatal("third call inside the window should be denied")
	}
	if got, want := res.ResetAt, now.Add(time.Minute); got.Sub(want).Abs() > time.Second {
		t.Fatalf("resetAt = %v, want about %v", got, want)
	}
}

func TestRedis_SAddArmsTTLUpwardOnly(t *testing.T) {
	r := redisStore(t)
	ctx := t.Context()
	key := "test:keystore:sadd:" + t.Name()
	t.Cleanup(func() { _, _ = r.Del(ctx, key) })

	if err := r.SAdd(ctx, key, []string{"a"}, 30*time.Second); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	// Shorter TTL must not shorten the set's life.
	if err := r.SAdd(ctx, key, []string{"b"}, time.Second); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	ttl, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl < 20*time.Second {
		t.Fatalf("TTL shrank to %v, want at least the original 30s minus slack", ttl)
	}

	members, err := r.SMembers(ctx, key)
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %v, want both members", members)
	}
}
