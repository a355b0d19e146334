package core

import (
	"fmt"
	"strings"
)

// InstanceParameters carries the caller-supplied provisioning parameters.
// Only this subset is patchable after creation.
type InstanceParameters struct {
	APIToken       string `json:"api_token"`
	ChannelID      string `json:"channel_id,omitempty"`
	ChannelName    string `json:"channel_name,omitempty"`
	ChannelTopic   string `json:"channel_topic,omitempty"`
	ChannelPurpose string `json:"channel_purpose,omitempty"`
	Label          string `json:"label,omitempty"`
}

// ToolchainBinding associates an instance with one external workflow.
type ToolchainBinding struct {
	ToolchainID string `json:"toolchain_id"`
	Credentials string `json:"credentials,omitempty"`
}

// ServiceInstance is the persisted provisioning record. The document store's
// concurrency token is tracked alongside, never inside, the document.
type ServiceInstance struct {
	ID                  string             `json:"id"`
	OrganizationID      string             `json:"organization_id,omitempty"`
	ChannelID           string             `json:"channel_id,omitempty"`
	DashboardURL        string             `json:"dashboard_url,omitempty"`
	Parameters          InstanceParameters `json:"parameters"`
	ServiceCredentials  string             `json:"service_credentials,omitempty"`
	ChannelNewlyCreated bool               `json:"channel_newly_created"`
	ToolchainBindings   []ToolchainBinding `json:"toolchain_bindings,omitempty"`
	Deleted             bool               `json:"deleted"`
}

func (i ServiceInstance) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("core: service instance id is required")
	}
	return nil
}

// HasBinding reports whether a binding with the given toolchain id exists.
func (i ServiceInstance) HasBinding(toolchainID string) bool {
	toolchainID = strings.TrimSpace(toolchainID)
	for _, binding := range i.ToolchainBindings {
		if binding.ToolchainID == toolchainID {
			return true
		}
	}
	return false
}

// WithBinding returns a copy with the binding appended. Binding an already
// bound toolchain id leaves the set unchanged.
func (i ServiceInstance) WithBinding(binding ToolchainBinding) ServiceInstance {
	binding.ToolchainID = strings.TrimSpace(binding.ToolchainID)
	if binding.ToolchainID == "" || i.HasBinding(binding.ToolchainID) {
		return i
	}
	next := i
	next.ToolchainBindings = append(append([]ToolchainBinding(nil), i.ToolchainBindings...), binding)
	return next
}

// WithoutBinding returns a copy with the binding removed. Removing an absent
// id is a no-op.
func (i ServiceInstance) WithoutBinding(toolchainID string) ServiceInstance {
	toolchainID = strings.TrimSpace(toolchainID)
	next := i
	next.ToolchainBindings = nil
	for _, binding := range i.ToolchainBindings {
		if binding.ToolchainID == toolchainID {
			continue
		}
		next.ToolchainBindings = append(next.ToolchainBindings, binding)
	}
	return next
}

// Tombstoned returns the delete-form of the instance: credentials scrubbed,
// bindings cleared, token parameters dropped, tombstone flag set. The record
// is never physically removed by this package.
func (i ServiceInstance) Tombstoned() ServiceInstance {
	next := i
	next.ServiceCredentials = ""
	next.ToolchainBindings = nil
	next.Parameters.APIToken = ""
	next.Deleted = true
	return next
}

// SameIdentity reports whether the two documents agree on every field the
// create/update predicate compares. Bindings are deliberately excluded:
// bind/unbind have their own reconciliation predicates.
func (i ServiceInstance) SameIdentity(other ServiceInstance) bool {
	return i.OrganizationID == other.OrganizationID &&
		i.ChannelID == other.ChannelID &&
		i.DashboardURL == other.DashboardURL &&
		i.Parameters == other.Parameters &&
		i.ServiceCredentials == other.ServiceCredentials &&
		i.ChannelNewlyCreated == other.ChannelNewlyCreated &&
		i.Deleted == other.Deleted
}

// RemoteChannel mirrors the channel provider's resource. This system never
// owns it; it only reads, creates, re-themes, and unarchives.
type RemoteChannel struct {
	ID         string
	Name       string
	IsArchived bool
	Topic      string
	Purpose    string
}

// ChannelResolution is the outcome of a find-or-create-or-reuse resolution.
// WasCreated is true only when this system created the channel; attaching to
// a pre-existing channel is never treated as ours to re-theme.
type ChannelResolution struct {
	Channel    RemoteChannel
	WasCreated bool
}

// ChannelMessage is a message posted to a remote channel. The channel field
// is always set from the resolved instance, never trusted from a payload.
type ChannelMessage struct {
	Channel     string           `json:"channel"`
	Text        string           `json:"text"`
	Attachments []map[string]any `json:"attachments,omitempty"`
}

// UserIdentity is the channel provider's answer to an identity check.
type UserIdentity struct {
	UserID   string
	UserName string
	TeamID   string
}

// EventEnvelope is an inbound lifecycle/notification event to be formatted
// and forwarded to the instance's bound channel.
type EventEnvelope struct {
	Source     string
	InstanceID string
	DeliveryID string
	Payload    map[string]any
}

// Credentials are exchanged, short-lived credentials derived from a
// presented authorization header.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
}

// UserData is the introspection result for an authorization/credential pair.
type UserData struct {
	Active   bool
	Subject  string
	Metadata map[string]any
}
