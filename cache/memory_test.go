package cache

import (
	"testing"
)

func mustNewMemory(t *testing.T, maxBytes int64) *Memory {
	t.Helper()
	m, err := NewMemory(maxBytes)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestMemory_GetSet(t *testing.T) {
	m := mustNewMemory(t, 1<<20)

	// Miss returns false.
	if _, ok := m.Get("k1"); ok {
		t.Fatal("expected miss")
	}

	m.Set("k1", []byte("v1"), 0)
	val, ok := m.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(val) != "v1" {
		t.Fatalf("got %q, want %q", val, "v1")
	}
}

func TestMemory_Del(t *testing.T) {
	m := mustNewMemory(t, 1<<20)

	m.Set("k", []byte("v"), 0)
	m.Del("k")
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemory_ReturnsClones(t *testing.T) {
	m := mustNewMemory(t, 1<<20)

	orig := []byte("original")
	m.Set("k", orig, 0)
	orig[0] = 'X'

	v, ok := m.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(v) != "original" {
		t.Fatalf("stored value was aliased to the caller's slice: %q", v)
	}

	v[0] = 'Y'
	v2, _ := m.Get("k")
	if string(v2) != "original" {
		t.Fatalf("returned value was aliased to the cache's copy: %q", v2)
	}
}

func TestMemory_Overwrite(t *testing.T) {
	m := mustNewMemory(t, 1<<20)

	m.Set("k", []byte("old"), 0)
	m.Set("k", []byte("new"), 0)
	v, ok := m.Get("k")
	if !ok || string(v) != "new" {
		t.Fatalf("got (%q, %v), want the superseding value", v, ok)
	}
}
