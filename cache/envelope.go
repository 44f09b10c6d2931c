package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/klauspost/compress/s2"
)

// ErrTooLarge reports a value whose encoded envelope exceeds the shared
// tier's payload ceiling. The guard runs client-side so oversized writes
// fail predictably here instead of opaquely at the store.
var ErrTooLarge = errors.New("cache: payload exceeds size ceiling")

// envelope is the shared-tier value format. The in-process tier holds raw
// values; only the blob that crosses the network carries this wrapper.
type envelope struct {
	Data       []byte    `json:"data"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	Tags       []string  `json:"tags,omitempty"`
	Compressed bool      `json:"compressed"`
	// Size is the uncompressed value size in bytes.
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// encodeEnvelope wraps val for the shared tier: compress past the threshold,
// then enforce the payload ceiling on the final blob.
func encodeEnvelope(val []byte, ttl time.Duration, tags []string, compressAt, maxPayload int, now time.Time) ([]byte, error) {
	env := envelope{
		Data:      val,
		Size:      len(val),
		Tags:      tags,
		CreatedAt: now,
	}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}
	if compressAt > 0 && len(val) >= compressAt {
		env.Data = s2.Encode(nil, val)
		env.Compressed = true
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if maxPayload > 0 && len(blob) > maxPayload {
		return nil, ErrTooLarge
	}
	return blob, nil
}

// decodeEnvelope unwraps a shared-tier blob back into the raw value.
func decodeEnvelope(blob []byte) (envelope, []byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return envelope{}, nil, err
	}
	if !env.Compressed {
		return env, env.Data, nil
	}
	val, err := s2.Decode(nil, env.Data)
	if err != nil {
		return envelope{}, nil, err
	}
	return env, val, nil
}
