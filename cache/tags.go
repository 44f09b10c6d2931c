package cache

import (
	"context"
	"time"
)

// tagKey is the shared-store key for one tag's member set.
func (t *Tiered) tagKey(tag string) string {
	return t.prefix + "tag:" + tag
}

// addTags registers a cache key under each tag's member set. The index TTL
// runs slack past the entry TTL so a live entry's tag membership cannot
// expire before the entry does. Best effort: a failed index write leaves the
// entry cached but unreachable by tag, which invalidation tolerates.
func (t *Tiered) addTags(ctx context.Context, storeKey string, tags []string, ttl time.Duration) {
	if len(tags) == 0 {
		return
	}
	indexTTL := time.Duration(0)
	if ttl > 0 {
		indexTTL = ttl + t.tagSlack
	}
	for _, tag := range tags {
		if err := t.store.SAdd(ctx, t.tagKey(tag), []string{storeKey}, indexTTL); err != nil {
			t.log.Warn("tag index write failed", "tag", tag, "key", storeKey, "error", err)
			t.mc.RecordInternalError("cache")
		}
	}
}

// InvalidateByTags removes every entry registered under any of the tags:
// fetch the member set, delete the members from both tiers, then drop the
// tag set itself. This is the supported bulk eviction path; pattern-scanning
// the keyspace is not.
func (t *Tiered) InvalidateByTags(ctx context.Context, tags ...string) int {
	removed := 0
	for _, tag := range tags {
		tk := t.tagKey(tag)
		members, err := t.store.SMembers(ctx, tk)
		if err != nil {
			t.log.Warn("tag member lookup failed", "tag", tag, "error", err)
			t.mc.RecordInternalError("cache")
			continue
		}
		for _, member := range members {
			t.mem.Del(member)
		}
		if len(members) > 0 {
			n, err := t.store.Del(ctx, members...)
			if err != nil {
				t.log.Warn("tag member delete failed", "tag", tag, "error", err)
				t.mc.RecordInternalError("cache")
				continue
			}
			removed += int(n)
		}
		if _, err := t.store.Del(ctx, tk); err != nil {
			t.log.Warn("tag index delete failed", "tag", tag, "error", err)
			t.mc.RecordInternalError("cache")
		}
	}
	return removed
}
