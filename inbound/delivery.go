package inbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-channel-broker/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultClaimTTL = 10 * time.Minute

// ClaimStore hands out processing claims keyed on a delivery identity.
// A completed claim suppresses redeliveries of the same key for its TTL;
// a failed claim releases the key so the provider's redelivery can retry.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// EventHandler processes one accepted delivery.
type EventHandler func(ctx context.Context, event core.EventEnvelope) error

// Outcome reports how a delivery was dispatched.
type Outcome struct {
	Deduplicated bool
}

// Dispatcher wraps an event handler with delivery deduplication.
// Deliveries without a delivery id bypass the claim store: the provider
// gave us nothing to dedupe on.
type Dispatcher struct {
	Store   ClaimStore
	Handler EventHandler
	KeyTTL  time.Duration
}

func NewDispatcher(store ClaimStore, handler EventHandler) *Dispatcher {
	return &Dispatcher{
		Store:   store,
		Handler: handler,
		KeyTTL:  defaultClaimTTL,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event core.EventEnvelope) (Outcome, error) {
	if d == nil || d.Handler == nil {
		return Outcome{}, inboundInternal("inbound: dispatcher is not configured", nil)
	}
	event.Source = strings.TrimSpace(event.Source)
	event.InstanceID = strings.TrimSpace(event.InstanceID)
	event.DeliveryID = strings.TrimSpace(event.DeliveryID)
	if event.InstanceID == "" {
		return Outcome{}, inboundBadInput("inbound: event instance id is required", map[string]any{
			"source": event.Source,
		})
	}

	if d.Store == nil || event.DeliveryID == "" {
		return Outcome{}, d.Handler(ctx, event)
	}

	key := deliveryKey(event)
	claimID, accepted, err := d.Store.Claim(ctx, key, d.keyTTL())
	if err != nil {
		return Outcome{}, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: delivery claim failed",
			500,
			core.BrokerErrorInternal,
			map[string]any{"source": event.Source, "delivery_id": event.DeliveryID},
		)
	}
	if !accepted {
		return Outcome{Deduplicated: true}, nil
	}

	if handleErr := d.Handler(ctx, event); handleErr != nil {
		if isPermanentFailure(handleErr) {
			// The redelivery would fail identically; keep the claim so
			// the provider stops resending.
			if completeErr := d.Store.Complete(ctx, claimID); completeErr != nil {
				return Outcome{}, inboundWrapError(
					completeErr,
					goerrors.CategoryOperation,
					"inbound: settle rejected delivery claim",
					500,
					core.BrokerErrorInternal,
					map[string]any{"claim_id": claimID},
				)
			}
			return Outcome{}, handleErr
		}
		if failErr := d.Store.Fail(ctx, claimID, handleErr, time.Time{}); failErr != nil {
			return Outcome{}, inboundWrapError(
				failErr,
				goerrors.CategoryOperation,
				"inbound: release delivery claim",
				500,
				core.BrokerErrorInternal,
				map[string]any{"claim_id": claimID},
			)
		}
		return Outcome{}, handleErr
	}

	if err := d.Store.Complete(ctx, claimID); err != nil {
		return Outcome{}, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: complete delivery claim",
			500,
			core.BrokerErrorInternal,
			map[string]any{"claim_id": claimID},
		)
	}
	return Outcome{}, nil
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return defaultClaimTTL
}

func deliveryKey(event core.EventEnvelope) string {
	source := event.Source
	if source == "" {
		source = "unknown"
	}
	return source + ":" + event.InstanceID + ":" + event.DeliveryID
}

// isPermanentFailure reports whether the routing error would repeat on
// redelivery: malformed payloads, unknown instances, rejected auth.
func isPermanentFailure(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation,
		goerrors.CategoryNotFound, goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return true
	default:
		return false
	}
}

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	key            string
	status         claimStatus
	claimID        string
	attempts       int
	keyTTL         time.Duration
	leaseExpiresAt time.Time
	retryAt        time.Time
}

// InMemoryClaimStore is a single-process ClaimStore. Completed claims
// evict after their TTL so the key space stays bounded. Claim ids are
// opaque uuids; callers hold them only for the Complete/Fail round trip.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: delivery key is required", nil)
	}
	now := s.now()
	if lease <= 0 {
		lease = defaultClaimTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	entry, exists := s.entries[key]
	if !exists {
		claimID := uuid.NewString()
		s.entries[key] = claimEntry{
			key:            key,
			status:         claimStatusProcessing,
			claimID:        claimID,
			attempts:       1,
			keyTTL:         lease,
			leaseExpiresAt: now.Add(lease),
		}
		s.claims[claimID] = key
		return claimID, true, nil
	}

	switch entry.status {
	case claimStatusComplete:
		if !entry.leaseExpiresAt.IsZero() && now.Before(entry.leaseExpiresAt) {
			return "", false, nil
		}
	case claimStatusProcessing:
		if now.Before(entry.leaseExpiresAt) {
			return "", false, nil
		}
	case claimStatusRetryReady:
		if !entry.retryAt.IsZero() && now.Before(entry.retryAt) {
			return "", false, nil
		}
	}

	if entry.claimID != "" {
		delete(s.claims, entry.claimID)
	}
	claimID := uuid.NewString()
	entry.status = claimStatusProcessing
	entry.claimID = claimID
	entry.attempts++
	entry.keyTTL = lease
	entry.leaseExpiresAt = now.Add(lease)
	entry.retryAt = time.Time{}
	s.entries[key] = entry
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	entry, exists := s.entries[key]
	if !exists || entry.claimID != claimID || entry.status != claimStatusProcessing {
		delete(s.claims, claimID)
		return nil
	}
	ttl := entry.keyTTL
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	now := s.now()
	entry.status = claimStatusComplete
	entry.leaseExpiresAt = now.Add(ttl)
	entry.retryAt = time.Time{}
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	entry, exists := s.entries[key]
	if !exists || entry.claimID != claimID || entry.status != claimStatusProcessing {
		delete(s.claims, claimID)
		return nil
	}
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	entry.status = claimStatusRetryReady
	entry.retryAt = retryAt.UTC()
	entry.leaseExpiresAt = time.Time{}
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.status != claimStatusComplete {
			continue
		}
		if entry.leaseExpiresAt.IsZero() || !now.Before(entry.leaseExpiresAt) {
			if entry.claimID != "" {
				delete(s.claims, entry.claimID)
			}
			delete(s.entries, key)
		}
	}
}

var _ ClaimStore = (*InMemoryClaimStore)(nil)
