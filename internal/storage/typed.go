package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for one kind.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a typed view of store for kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{store: store, kind: kind}
}

// Kind returns the kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get returns the state of id. ok is false when nothing is stored.
func (s *TypedStore[T]) Get(ctx context.Context, id string) (value T, ok bool, err error) {
	payload, _, err := s.store.Get(ctx, s.kind, id)
	if err != nil || payload == nil {
		return value, false, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, fmt.Errorf("failed to unmarshal %s state: %w", s.kind, err)
	}
	return value, true, nil
}

// Set stores the state of id.
func (s *TypedStore[T]) Set(ctx context.Context, id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s state: %w", s.kind, err)
	}
	return s.store.Set(ctx, s.kind, id, payload)
}

// Delete removes the state of id.
func (s *TypedStore[T]) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, s.kind, id)
}

// Clear removes every state of this kind.
func (s *TypedStore[T]) Clear(ctx context.Context) (int64, error) {
	return s.store.Clear(ctx, s.kind)
}

// All returns every state of this kind.
func (s *TypedStore[T]) All(ctx context.Context) (map[string]T, error) {
	payloads, err := s.store.All(ctx, s.kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(payloads))
	for id, payload := range payloads {
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s state for %s: %w", s.kind, id, err)
		}
		out[id] = value
	}
	return out, nil
}
