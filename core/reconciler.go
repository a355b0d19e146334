package core

import (
	"context"
	"fmt"
	"strings"
)

// ReconcileRequest configures one read-compare-merge-write cycle for a
// document of type T. The five configuration points are independent so
// each can be exercised on its own:
//
//   - Existing: builds the update candidate from the stored document.
//   - New: builds the document to create when none is stored.
//   - ShouldCreate: gates the create branch (NewReconcileRequest enables it).
//   - ShouldUpdate: predicate deciding whether a write happens at all.
//   - Merge: combines stored document and candidate into the written form.
//
// The cycle performs no conflict retry of its own: an optimistic-
// concurrency loss surfaces as ErrStoreConflict and retrying the whole
// operation is the caller's decision.
type ReconcileRequest[T any] struct {
	ID           string
	Existing     func(stored T) (T, error)
	New          func() (T, error)
	ShouldCreate bool
	ShouldUpdate func(stored T, candidate T) bool
	Merge        func(stored T, candidate T) T
}

// NewReconcileRequest returns a request with the create branch enabled,
// matching the protocol's shouldCreate=true default.
func NewReconcileRequest[T any](id string) ReconcileRequest[T] {
	return ReconcileRequest[T]{
		ID:           strings.TrimSpace(id),
		ShouldCreate: true,
	}
}

// ReconcileResult reports what the cycle did. Written is false when the
// ShouldUpdate predicate declined the write and the stored document was
// returned unchanged.
type ReconcileResult[T any] struct {
	Document T
	Token    string
	Created  bool
	Written  bool
}

// Reconcile runs the optimistic-concurrency update protocol against the
// store. Reads the document; creates it via New when absent and the create
// branch is enabled; otherwise builds a candidate from the stored document,
// consults ShouldUpdate, and writes Merge(stored, candidate) under the
// stored document's concurrency token.
func Reconcile[T any](
	ctx context.Context,
	store DocumentStore[T],
	req ReconcileRequest[T],
) (ReconcileResult[T], error) {
	var zero ReconcileResult[T]
	if store == nil {
		return zero, fmt.Errorf("core: document store is required")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return zero, fmt.Errorf("core: document id is required")
	}

	stored, token, err := store.Get(ctx, id)
	switch {
	case err == nil:
	case isDocumentNotFound(err):
		if !req.ShouldCreate {
			return zero, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		if req.New == nil {
			return zero, fmt.Errorf("core: reconcile of %q has no document builder", id)
		}
		doc, buildErr := req.New()
		if buildErr != nil {
			return zero, buildErr
		}
		newToken, putErr := store.Put(ctx, id, doc, "")
		if putErr != nil {
			return zero, putErr
		}
		return ReconcileResult[T]{Document: doc, Token: newToken, Created: true, Written: true}, nil
	default:
		return zero, err
	}

	candidate := stored
	if req.Existing != nil {
		candidate, err = req.Existing(stored)
		if err != nil {
			return zero, err
		}
	}
	if req.ShouldUpdate != nil && !req.ShouldUpdate(stored, candidate) {
		return ReconcileResult[T]{Document: stored, Token: token}, nil
	}

	merged := candidate
	if req.Merge != nil {
		merged = req.Merge(stored, candidate)
	}
	newToken, err := store.Put(ctx, id, merged, token)
	if err != nil {
		return zero, err
	}
	return ReconcileResult[T]{Document: merged, Token: newToken, Written: true}, nil
}
