package store

import (
	"context"
	"strconv"
	"sync"

	"protokoll/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in process memory. It is the default wiring
// when redis is not configured and the seam every service suite tests
// against. Behavior matches the redis implementation field for field.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]map[string]string)}
}

func (s *InMemoryStore) Get(_ context.Context, key string, dest any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	return decodeDoc(doc, dest)
}

func (s *InMemoryStore) Set(_ context.Context, key string, doc any) error {
	fields, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = fields
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, key string, fields map[string]any) error {
	encoded := make(map[string]string, len(fields))
	for f, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			return err
		}
		encoded[f] = ev
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merge(key, encoded)
	return nil
}

func (s *InMemoryStore) Increment(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.increment(key, field, delta)
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, key string, defaults, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[key]; ok {
		return false, decodeDoc(doc, dest)
	}
	fields, err := encodeDoc(defaults)
	if err != nil {
		return false, err
	}
	s.docs[key] = fields
	return true, decodeDoc(fields, dest)
}

// Batch applies all queued writes under one lock so readers never observe a
// partially applied batch.
func (s *InMemoryStore) Batch(_ context.Context, fn func(Batch) error) error {
	b := &memoryBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range b.ops {
		op(s)
	}
	return nil
}

func (s *InMemoryStore) merge(key string, fields map[string]string) {
	doc, ok := s.docs[key]
	if !ok {
		doc = make(map[string]string, len(fields))
		s.docs[key] = doc
	}
	for f, v := range fields {
		doc[f] = v
	}
}

func (s *InMemoryStore) increment(key, field string, delta int64) (int64, error) {
	doc, ok := s.docs[key]
	if !ok {
		doc = make(map[string]string)
		s.docs[key] = doc
	}
	var current int64
	if raw, ok := doc[field]; ok && raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current += delta
	doc[field] = strconv.FormatInt(current, 10)
	return current, nil
}

type memoryBatch struct {
	ops []func(*InMemoryStore)
	err error
}

func (b *memoryBatch) Set(key string, doc any) {
	fields, err := encodeDoc(doc)
	if err != nil {
		b.fail(err)
		return
	}
	b.ops = append(b.ops, func(s *InMemoryStore) { s.docs[key] = fields })
}

func (b *memoryBatch) Update(key string, fields map[string]any) {
	encoded := make(map[string]string, len(fields))
	for f, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			b.fail(err)
			return
		}
		encoded[f] = ev
	}
	b.ops = append(b.ops, func(s *InMemoryStore) { s.merge(key, encoded) })
}

func (b *memoryBatch) Increment(key, field string, delta int64) {
	b.ops = append(b.ops, func(s *InMemoryStore) { _, _ = s.increment(key, field, delta) })
}

func (b *memoryBatch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
