// Package inbound handles provider-originated event deliveries.
//
// Deliveries carrying a delivery id use claim/complete/fail idempotency
// semantics so redelivered events post at most one channel message while
// transient routing failures remain retryable.
package inbound
