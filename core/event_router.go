package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// EventRouter forwards inbound events to the channel bound to the target
// instance. Formatters are looked up by event source; unknown sources fall
// back to the generic JSON rendering so no event is silently dropped.
type EventRouter struct {
	mu         sync.RWMutex
	store      InstanceStore
	api        ChannelAPI
	logger     Logger
	formatters map[string]EventFormatter
}

func NewEventRouter(store InstanceStore, api ChannelAPI, logger Logger) *EventRouter {
	return &EventRouter{
		store:      store,
		api:        api,
		logger:     logger,
		formatters: map[string]EventFormatter{},
	}
}

func (r *EventRouter) Register(source string, formatter EventFormatter) {
	if r == nil || formatter == nil {
		return
	}
	source = strings.TrimSpace(strings.ToLower(source))
	if source == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[source] = formatter
}

func (r *EventRouter) formatterFor(source string) EventFormatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if formatter, ok := r.formatters[strings.TrimSpace(strings.ToLower(source))]; ok {
		return formatter
	}
	return GenericEventFormatter
}

// Route looks up the instance, renders the event, and posts the message to
// the instance's bound channel using the instance's stored token. The
// formatter's channel choice is always overwritten with the bound channel.
func (r *EventRouter) Route(ctx context.Context, event EventEnvelope) error {
	if r == nil || r.store == nil || r.api == nil {
		return fmt.Errorf("core: event router is not configured")
	}
	instanceID := strings.TrimSpace(event.InstanceID)
	if instanceID == "" {
		return newBrokerError(
			"core: event instance id is required",
			goerrors.CategoryBadInput, BrokerErrorBadInput,
		)
	}

	instance, _, err := r.store.Get(ctx, instanceID)
	if err != nil {
		if isDocumentNotFound(err) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return err
	}
	if instance.Deleted {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	formatter := r.formatterFor(event.Source)
	msg, err := formatter(event)
	if err != nil {
		return newBrokerError(
			fmt.Sprintf("core: event formatting failed: %v", err),
			goerrors.CategoryBadInput, BrokerErrorBadInput,
		)
	}
	msg.Channel = instance.ChannelID

	token := strings.TrimSpace(instance.Parameters.APIToken)
	if token == "" {
		return newBrokerError(
			fmt.Sprintf("core: instance %s has no channel token", instanceID),
			goerrors.CategoryBadInput, BrokerErrorBadInput,
		)
	}
	if err := r.api.PostMessage(ctx, token, msg); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Debug("event routed",
			"instance_id", instanceID,
			"source", event.Source,
			"channel", msg.Channel,
		)
	}
	return nil
}

// GenericEventFormatter renders an event payload as a fenced JSON block.
// It is the fallback for sources without a registered formatter.
func GenericEventFormatter(event EventEnvelope) (ChannelMessage, error) {
	source := strings.TrimSpace(event.Source)
	if source == "" {
		source = "unknown"
	}
	payload, err := json.MarshalIndent(event.Payload, "", "  ")
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("core: event payload is not serializable: %w", err)
	}
	return ChannelMessage{
		Text: fmt.Sprintf("Event from %s:\n```\n%s\n```", source, payload),
	}, nil
}
