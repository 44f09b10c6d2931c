package cache

import (
	"bytes"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is the bounded in-process tier, backed by ristretto. Entries are
// costed by value size so the bound is bytes, not entry count; under
// pressure ristretto's admission policy evicts cold entries first.
type Memory struct {
	rc *ristretto.Cache[string, []byte]
}

// NewMemory creates an in-process tier holding at most maxBytes of values.
func NewMemory(maxBytes int64) (*Memory, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	// Counter space sized for ~10x the entry count at a 1KiB average
	// value, per ristretto's guidance.
	counters := maxBytes / 1024 * 10
	if counters < 1024 {
		counters = 1024
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{rc: rc}, nil
}

// Get retrieves a value by key.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.rc.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Set stores a value under key with the given TTL, costed at its size.
func (m *Memory) Set(key string, val []byte, ttl time.Duration) {
	cost := int64(len(val))
	if cost == 0 {
		cost = 1
	}
	if ttl > 0 {
		m.rc.SetWithTTL(key, bytes.Clone(val), cost, ttl)
	} else {
		m.rc.Set(key, bytes.Clone(val), cost)
	}
	m.rc.Wait()
}

// Del removes key.
func (m *Memory) Del(key string) {
	m.rc.Del(key)
}

// Close releases the tier's resources.
func (m *Memory) Close() {
	m.rc.Close()
}
