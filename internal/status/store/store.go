// Package store provides the keyed document store the engine persists its
// status records in. Documents are flat structs with json tags; integer
// fields can be incremented atomically; multi-document writes commit as one
// transactional batch so partial failure cannot split an invariant across
// records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Batch queues writes that commit atomically.
type Batch interface {
	Set(key string, doc any)
	Update(key string, fields map[string]any)
	Increment(key, field string, delta int64)
}

// Store is the keyed document store contract.
type Store interface {
	// Get decodes the document at key into dest. Missing documents return
	// sentinel.ErrNotFound.
	Get(ctx context.Context, key string, dest any) error
	// Set replaces the document at key.
	Set(ctx context.Context, key string, doc any) error
	// Update merges the given fields into the document at key, creating it
	// if absent.
	Update(ctx context.Context, key string, fields map[string]any) error
	// Increment atomically adds delta to an integer field and returns the
	// new value.
	Increment(ctx context.Context, key, field string, delta int64) (int64, error)
	// GetOrCreate writes defaults only when no document exists yet, then
	// decodes the authoritative document into dest. The first writer for a
	// key wins; created reports whether this call was that writer.
	GetOrCreate(ctx context.Context, key string, defaults, dest any) (created bool, err error)
	// Batch runs fn to queue writes, then commits them atomically.
	Batch(ctx context.Context, fn func(Batch) error) error
}

// Documents are persisted as field maps with JSON-encoded values so that
// integer fields stay HINCRBY-compatible in redis and both implementations
// share one representation.

func encodeDoc(doc any) (map[string]string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = string(v)
	}
	return out, nil
}

func decodeDoc(fields map[string]string, dest any) error {
	obj := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		obj[k] = json.RawMessage(v)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("assemble document: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode field: %w", err)
	}
	return string(raw), nil
}
