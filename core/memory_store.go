package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

type memoryDocument[T any] struct {
	doc      T
	revision int
}

// MemoryDocumentStore is an in-process DocumentStore with the same
// optimistic-concurrency contract as the SQL store. It backs tests and
// single-process deployments that opt out of persistence.
type MemoryDocumentStore[T any] struct {
	mu   sync.Mutex
	docs map[string]memoryDocument[T]

	// PutCount counts successful writes; tests assert no-op reconciles
	// through it.
	PutCount int
}

func NewMemoryDocumentStore[T any]() *MemoryDocumentStore[T] {
	return &MemoryDocumentStore[T]{
		docs: map[string]memoryDocument[T]{},
	}
}

func (s *MemoryDocumentStore[T]) Get(_ context.Context, id string) (T, string, error) {
	var zero T
	if s == nil {
		return zero, "", fmt.Errorf("core: memory document store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, "", fmt.Errorf("core: document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.docs[id]
	if !ok {
		return zero, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return entry.doc, strconv.Itoa(entry.revision), nil
}

func (s *MemoryDocumentStore[T]) Put(_ context.Context, id string, doc T, expectedToken string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: memory document store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("core: document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.docs[id]

	if strings.TrimSpace(expectedToken) == "" {
		if exists {
			return "", fmt.Errorf("%w: document %s already exists", ErrStoreConflict, id)
		}
		s.docs[id] = memoryDocument[T]{doc: doc, revision: 1}
		s.PutCount++
		return "1", nil
	}

	if !exists {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	expected, err := strconv.Atoi(strings.TrimSpace(expectedToken))
	if err != nil || expected != entry.revision {
		return "", fmt.Errorf("%w: document %s token mismatch", ErrStoreConflict, id)
	}
	entry.doc = doc
	entry.revision++
	s.docs[id] = entry
	s.PutCount++
	return strconv.Itoa(entry.revision), nil
}

var _ DocumentStore[ServiceInstance] = (*MemoryDocumentStore[ServiceInstance])(nil)
