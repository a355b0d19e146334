package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DocumentStore is the versioned key-value contract the reconciler runs
// against. Get returns the document together with its opaque concurrency
// token. Put with an empty expected token creates the document and fails
// with ErrStoreConflict when a concurrent creator wins; Put with a token
// fails with ErrStoreConflict when the stored token no longer matches.
// Deletion is modeled as a tombstone put, never a physical remove.
type DocumentStore[T any] interface {
	Get(ctx context.Context, id string) (T, string, error)
	Put(ctx context.Context, id string, doc T, expectedToken string) (string, error)
}

// InstanceStore is the concrete store used by the lifecycle service.
type InstanceStore = DocumentStore[ServiceInstance]

// ChannelAPI is the narrow channel-provider surface the broker consumes.
// Every call may fail with the transient ErrOperationInProgress signal,
// which callers retry with a bounded fixed backoff.
type ChannelAPI interface {
	IdentityCheck(ctx context.Context, token string) (UserIdentity, error)
	GetChannel(ctx context.Context, token string, channelID string, private bool) (RemoteChannel, error)
	CreateChannel(ctx context.Context, token string, name string) (RemoteChannel, error)
	SetTopic(ctx context.Context, token string, channelID string, topic string) error
	SetPurpose(ctx context.Context, token string, channelID string, purpose string) error
	Unarchive(ctx context.Context, token string, channelID string) error
	ListChannels(ctx context.Context, token string, private bool) ([]RemoteChannel, error)
	PostMessage(ctx context.Context, token string, msg ChannelMessage) error
}

// ExchangeOptions steer a credential exchange. Refresh bypasses any cache
// layered over the exchanger.
type ExchangeOptions struct {
	Target    string
	Toolchain string
	Refresh   bool
}

// IntrospectOptions steer an introspection call.
type IntrospectOptions struct {
	Refresh bool
}

// CredentialExchanger is the credential exchange provider contract.
type CredentialExchanger interface {
	Exchange(ctx context.Context, authHeader string, opts ExchangeOptions) (Credentials, error)
	Introspect(ctx context.Context, authHeader string, creds Credentials) (UserData, error)
}

// ToolchainDirectory resolves a toolchain id to its display name, used by
// the best-effort topic/purpose propagation on bind.
type ToolchainDirectory interface {
	DisplayName(ctx context.Context, toolchainID string, credentials string) (string, error)
}

// EventFormatter renders an inbound event into a channel message. The
// router overwrites the message's channel with the instance's bound
// channel id regardless of what the formatter produced.
type EventFormatter func(event EventEnvelope) (ChannelMessage, error)

// ProvisionRequest creates or updates a service instance document.
type ProvisionRequest struct {
	InstanceID         string
	OrganizationID     string
	ServiceCredentials string
	// HasServiceCredentials distinguishes "replace with empty" from
	// "omitted, carry over from the existing document".
	HasServiceCredentials bool
	Parameters            InstanceParameters
}

// PatchRequest updates the patchable parameter subset of an instance.
type PatchRequest struct {
	InstanceID string
	Parameters InstanceParameters
}

// ProvisionResult is returned by Provision and Patch.
type ProvisionResult struct {
	Instance     ServiceInstance
	DashboardURL string
	Created      bool
	Updated      bool
}

// BindRequest associates a toolchain with an instance.
type BindRequest struct {
	InstanceID  string
	ToolchainID string
	Credentials string
}

// UnbindRequest removes a toolchain association.
type UnbindRequest struct {
	InstanceID  string
	ToolchainID string
}

// ResolveChannelRequest asks the resolver for an existing, newly created,
// or reactivated channel. Exactly one of ChannelID/ChannelName must be set
// for a meaningful resolution; neither is invalid input.
type ResolveChannelRequest struct {
	Token       string
	ChannelID   string
	ChannelName string
	Topic       string
	Purpose     string
}

// TransportRequest is an outbound HTTP-shaped request handed to a
// TransportAdapter.
type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

// TransportResponse is the adapter's answer.
type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// TransportAdapter performs outbound calls for provider clients.
type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// MetricsRecorder receives operation counters and latency histograms.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
