package keystore

import (
	"context"
	"path"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-instance deployments.
// One mutex serializes every operation, which satisfies the same atomicity
// contract Redis provides through server-side scripts. Expired entries are
// reaped lazily on access.
type Memory struct {
	mu      sync.Mutex
	kv      map[string]memEntry
	sets    map[string]memSet
	windows map[string][]int64

	nowFunc func() time.Time
}

type memEntry struct {
	val       []byte
	expiresAt time.Time
}

type memSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kv:      make(map[string]memEntry),
		sets:    make(map[string]memSet),
		windows: make(map[string][]int64),
		nowFunc: time.Now,
	}
}

// SetNowFunc replaces the store's clock. Tests use it to step time across
// TTL and window boundaries deterministically.
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = now
}

func (m *Memory) now() time.Time {
	return m.nowFunc()
}

// expired reports whether a deadline has passed; the zero time means no TTL.
func expired(at, now time.Time) bool {
	return !at.IsZero() && !at.After(now)
}

func (m *Memory) liveEntry(key string, now time.Time) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if expired(e.expiresAt, now) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the value at key, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveEntry(key, m.now())
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(e.val), nil
}

// Set stores val under key with the given TTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = memEntry{val: slices.Clone(val), expiresAt: deadline(m.now(), ttl)}
	return nil
}

// SetNX stores val only if key is absent and reports whether it did.
func (m *Memory) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.liveEntry(key, now); ok {
		return false, nil
	}
	m.kv[key] = memEntry{val: slices.Clone(val), expiresAt: deadline(now, ttl)}
	return true, nil
}

// Del removes keys and returns how many existed.
func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for _, key := range keys {
		if _, ok := m.liveEntry(key, now); ok {
			delete(m.kv, key)
			n++
		}
		if s, ok := m.sets[key]; ok {
			if !expired(s.expiresAt, now) {
				n++
			}
			delete(m.sets, key)
		}
		delete(m.windows, key)
	}
	return n, nil
}

// Incr atomically increments the counter at key.
func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var cur int64
	e, ok := m.liveEntry(key, now)
	if ok {
		parsed, err := strconv.ParseInt(string(e.val), 10, 64)
		if err != nil {
			return 0, err
		}
		cur = parsed
	}
	cur++
	m.kv[key] = memEntry{val: []byte(strconv.FormatInt(cur, 10)), expiresAt: e.expiresAt}
	return cur, nil
}

// SAdd adds members to the set at key and arms its TTL upward.
func (m *Memory) SAdd(_ context.Context, key string, members []string, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sets[key]
	if !ok || expired(s.expiresAt, now) {
		s = memSet{members: make(map[string]struct{})}
	}
	for _, mem := range members {
		s.members[mem] = struct{}{}
	}
	if at := deadline(now, ttl); s.expiresAt.IsZero() || at.After(s.expiresAt) {
		s.expiresAt = at
	}
	m.sets[key] = s
	return nil
}

// SMembers returns the members of the set at key in sorted order.
func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	if expired(s.expiresAt, m.now()) {
		delete(m.sets, key)
		return nil, nil
	}
	out := make([]string, 0, len(s.members))
	for mem := range s.members {
		out = append(out, mem)
	}
	slices.Sort(out)
	return out, nil
}

// Keys returns live keys matching a glob-style pattern.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for key := range m.kv {
		if _, ok := m.liveEntry(key, now); !ok {
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, err
		} else if ok {
			out = append(out, key)
		}
	}
	for key, s := range m.sets {
		if expired(s.expiresAt, now) {
			delete(m.sets, key)
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, err
		} else if ok {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out, nil
}

// CompareAndDelete removes key only if it still holds expect.
func (m *Memory) CompareAndDelete(_ context.Context, key string, expect []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveEntry(key, m.now())
	if !ok || string(e.val) != string(expect) {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

// FixedWindow records a call in the bucket containing now and decides
// admission.
func (m *Memory) FixedWindow(_ context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := windowStart(now, window)
	bk := bucketKey(key, start)
	var count int64
	if e, ok := m.liveEntry(bk, now); ok {
		parsed, err := strconv.ParseInt(string(e.val), 10, 64)
		if err != nil {
			return WindowResult{}, err
		}
		count = parsed
	}
	count++
	exp := m.kv[bk].expiresAt
	if count == 1 {
		exp = now.Add(window)
	}
	m.kv[bk] = memEntry{val: []byte(strconv.FormatInt(count, 10)), expiresAt: exp}
	return fixedResult(count, limit, start, window), nil
}

// SlidingWindow records a call against the trailing window ending at now and
// decides admission.
func (m *Memory) SlidingWindow(_ context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	allowed := int64(len(kept)) < limit
	if allowed {
		kept = append(kept, nowMs)
	}
	m.windows[key] = kept
	oldest := nowMs
	if len(kept) > 0 {
		oldest = kept[0]
	}
	return slidingResult(allowed, int64(len(kept)), oldest, limit, window), nil
}

// Ping always succeeds; the store lives in this process.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
var _ Store = (*Redis)(nil)
