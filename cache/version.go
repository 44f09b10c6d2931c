package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// versionCacheTTL bounds how long an instance may use a memory-cached
// namespace version. Cross-instance invalidation lag is at most this long.
const versionCacheTTL = time.Second

// VersionedKey builds a cache key for a parameterized family (list
// endpoints, filtered queries) under the family's current namespace
// version. Bumping the version makes every previously derived key
// unreachable; the stale entries age out by TTL without enumeration.
func (t *Tiered) VersionedKey(ctx context.Context, family string, parts ...string) string {
	v := t.version(ctx, family)
	if len(parts) == 0 {
		return family + ":v" + strconv.FormatInt(v, 10)
	}
	return family + ":v" + strconv.FormatInt(v, 10) + ":" + strings.Join(parts, ":")
}

// BumpVersion invalidates the whole family by advancing its version token.
func (t *Tiered) BumpVersion(ctx context.Context, family string) bool {
	vk := t.versionKey(family)
	v, err := t.store.Incr(ctx, vk)
	if err != nil {
		t.log.Warn("version bump failed", "family", family, "error", err)
		t.mc.RecordInternalError("cache")
		return false
	}
	// Refresh this instance's cached token immediately; other instances
	// converge within versionCacheTTL.
	t.mem.Set(vk, []byte(strconv.FormatInt(v, 10)), versionCacheTTL)
	return true
}

func (t *Tiered) versionKey(family string) string {
	return t.prefix + "ver:" + family
}

// version resolves the family's current token. A family that was never
// bumped is version 0, so the first bump (to 1) invalidates everything
// written before it. Store failures fall back to 0, which simply makes
// version lookups consistent-but-stale until the store returns.
func (t *Tiered) version(ctx context.Context, family string) int64 {
	vk := t.versionKey(family)
	if b, ok := t.mem.Get(vk); ok {
		if v, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return v
		}
	}
	b, err := t.store.Get(ctx, vk)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		t.log.Warn("version token corrupt", "family", family, "error", err)
		return 0
	}
	t.mem.Set(vk, b, versionCacheTTL)
	return v
}
