package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	val := []byte(`{"id":"p-1","name":"brass lantern"}`)

	blob, err := encodeEnvelope(val, time.Minute, []string{"products"}, 0, 0, now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, got, err := decodeEnvelope(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, val) {
		t.Fatalf("got %q, want %q", got, val)
	}
	if env.Compressed {
		t.Fatal("small value should not be compressed")
	}
	if env.Size != len(val) {
		t.Fatalf("size = %d, want %d", env.Size, len(val))
	}
	if want := now.Add(time.Minute); !env.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", env.ExpiresAt, want)
	}
	if len(env.Tags) != 1 || env.Tags[0] != "products" {
		t.Fatalf("tags = %v, want [products]", env.Tags)
	}
}

func TestEnvelopeCompressesPastThreshold(t *testing.T) {
	now := time.Now()
	val := bytes.Repeat([]byte("storefront catalog entry "), 400)

	blob, err := encodeEnvelope(val, time.Minute, nil, 1024, 0, now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.Compressed {
		t.Fatal("value past the threshold should be compressed")
	}
	if len(env.Data) >= len(val) {
		t.Fatalf("compressed payload %d bytes, want smaller than %d", len(env.Data), len(val))
	}

	_, got, err := decodeEnvelope(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, val) {
		t.Fatal("round trip lost data")
	}
}

func TestEnvelopeRejectsOversized(t *testing.T) {
	// Incompressible payload against a tiny ceiling.
	val := make([]byte, 4096)
	for i := range val {
		val[i] = byte(i * 7)
	}
	_, err := encodeEnvelope(val, time.Minute, nil, 0, 1024, time.Now())
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

func TestEnvelopeZeroTTLNeverExpires(t *testing.T) {
	blob, err := encodeEnvelope([]byte("v"), 0, nil, 0, 0, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, _, err := decodeEnvelope(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.ExpiresAt.IsZero() {
		t.Fatalf("expiresAt = %v, want zero for no expiry", env.ExpiresAt)
	}
}
