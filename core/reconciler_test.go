package core

import (
	"context"
	"errors"
	"testing"
)

func TestReconcile_CreatesWhenAbsent(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()

	req := NewReconcileRequest[ServiceInstance]("inst-1")
	req.New = func() (ServiceInstance, error) {
		return ServiceInstance{ID: "inst-1", ChannelID: "C1"}, nil
	}

	result, err := Reconcile(context.Background(), store, req)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Created || !result.Written {
		t.Fatalf("expected create, got %+v", result)
	}
	if result.Token == "" {
		t.Fatalf("expected a concurrency token")
	}
	if store.PutCount != 1 {
		t.Fatalf("expected one write, got %d", store.PutCount)
	}
}

func TestReconcile_MissingWithoutCreateBranch(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()

	req := NewReconcileRequest[ServiceInstance]("inst-1")
	req.ShouldCreate = false
	req.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		return stored, nil
	}

	_, err := Reconcile(context.Background(), store, req)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if store.PutCount != 0 {
		t.Fatalf("missing document must not be written, got %d writes", store.PutCount)
	}
}

func TestReconcile_DeclinedUpdateWritesNothing(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	if _, err := store.Put(context.Background(), "inst-1", ServiceInstance{ID: "inst-1", ChannelID: "C1"}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	writesBefore := store.PutCount

	req := NewReconcileRequest[ServiceInstance]("inst-1")
	req.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		return stored, nil
	}
	req.ShouldUpdate = func(stored ServiceInstance, candidate ServiceInstance) bool {
		return !stored.SameIdentity(candidate)
	}

	result, err := Reconcile(context.Background(), store, req)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Written || result.Created {
		t.Fatalf("identical candidate must not write, got %+v", result)
	}
	if store.PutCount != writesBefore {
		t.Fatalf("expected no additional writes, got %d", store.PutCount-writesBefore)
	}
	if result.Document.ChannelID != "C1" {
		t.Fatalf("expected stored document back, got %+v", result.Document)
	}
}

func TestReconcile_MergeCombinesStoredAndCandidate(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	seed := ServiceInstance{
		ID:                "inst-1",
		ChannelID:         "C1",
		ToolchainBindings: []ToolchainBinding{{ToolchainID: "tc-1"}},
	}
	if _, err := store.Put(context.Background(), "inst-1", seed, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := NewReconcileRequest[ServiceInstance]("inst-1")
	req.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		next := stored
		next.ChannelID = "C2"
		next.ToolchainBindings = nil
		return next, nil
	}
	req.Merge = func(stored ServiceInstance, candidate ServiceInstance) ServiceInstance {
		candidate.ToolchainBindings = stored.ToolchainBindings
		return candidate
	}

	result, err := Reconcile(context.Background(), store, req)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Document.ChannelID != "C2" {
		t.Fatalf("candidate change lost: %+v", result.Document)
	}
	if len(result.Document.ToolchainBindings) != 1 {
		t.Fatalf("merge must preserve stored bindings: %+v", result.Document)
	}
}

func TestReconcile_ConflictSurfacesWithoutRetry(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	if _, err := store.Put(context.Background(), "inst-1", ServiceInstance{ID: "inst-1"}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conflicting := &conflictOnPutStore{inner: store}
	req := NewReconcileRequest[ServiceInstance]("inst-1")
	req.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		next := stored
		next.ChannelID = "C2"
		return next, nil
	}

	_, err := Reconcile(context.Background(), conflicting, req)
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("expected ErrStoreConflict, got %v", err)
	}
	if conflicting.puts != 1 {
		t.Fatalf("conflict must not be retried, got %d writes", conflicting.puts)
	}
}

// conflictOnPutStore races every write: between the read and the write the
// stored revision moves on.
type conflictOnPutStore struct {
	inner *MemoryDocumentStore[ServiceInstance]
	puts  int
}

func (s *conflictOnPutStore) Get(ctx context.Context, id string) (ServiceInstance, string, error) {
	doc, token, err := s.inner.Get(ctx, id)
	if err != nil {
		return doc, token, err
	}
	if _, err := s.inner.Put(ctx, id, doc, token); err != nil {
		return ServiceInstance{}, "", err
	}
	return doc, token, nil
}

func (s *conflictOnPutStore) Put(ctx context.Context, id string, doc ServiceInstance, expectedToken string) (string, error) {
	s.puts++
	return s.inner.Put(ctx, id, doc, expectedToken)
}
