package persist

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const envelopeVersion = 1

type envelope struct {
	Version int             `json:"v"`
	Sum     string          `json:"sum"`
	Data    json.RawMessage `json:"data"`
}

// Seal serializes value to JSON and wraps it with a checksum.
func Seal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	sum := blake2b.Sum256(data)
	return json.Marshal(envelope{
		Version: envelopeVersion,
		Sum:     hex.EncodeToString(sum[:]),
		Data:    data,
	})
}

// Open verifies a sealed value and returns its JSON payload.
func Open(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrCorrupt, env.Version)
	}
	sum := blake2b.Sum256(env.Data)
	if hex.EncodeToString(sum[:]) != env.Sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return env.Data, nil
}

// Snapshot reads every value stored under prefix and returns the opened
// payloads keyed by slice name. Corrupt values are reported in the joined error
// and left out of the result.
func Snapshot(ctx context.Context, backend Backend, prefix string) (map[string]json.RawMessage, error) {
	keys, err := backend.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	var errs []error
	for _, key := range keys {
		raw, err := backend.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		data, err := Open(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		out[strings.TrimPrefix(key, prefix)] = data
	}
	return out, errors.Join(errs...)
}
