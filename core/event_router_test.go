package core

import (
	"context"
	"strings"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func seedRoutedInstance(t *testing.T, store *MemoryDocumentStore[ServiceInstance]) {
	t.Helper()
	instance := ServiceInstance{
		ID:        "inst-1",
		ChannelID: "C-ops",
		Parameters: InstanceParameters{
			APIToken: "xoxb-1",
		},
	}
	if _, err := store.Put(context.Background(), "inst-1", instance, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestEventRouter_PostsToBoundChannel(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	seedRoutedInstance(t, store)
	api := &stubChannelAPI{}
	router := NewEventRouter(store, api, glog.Nop())
	router.Register("pipeline", func(event EventEnvelope) (ChannelMessage, error) {
		return ChannelMessage{Channel: "C-ignored", Text: "build passed"}, nil
	})

	err := router.Route(context.Background(), EventEnvelope{
		Source:     "pipeline",
		InstanceID: "inst-1",
		Payload:    map[string]any{"status": "passed"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(api.posted) != 1 {
		t.Fatalf("expected one posted message, got %d", len(api.posted))
	}
	msg := api.posted[0]
	if msg.Channel != "C-ops" {
		t.Fatalf("formatter channel must be overwritten with the bound channel, got %q", msg.Channel)
	}
	if msg.Text != "build passed" {
		t.Fatalf("unexpected text %q", msg.Text)
	}
}

func TestEventRouter_UnknownSourceUsesGenericFormatter(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	seedRoutedInstance(t, store)
	api := &stubChannelAPI{}
	router := NewEventRouter(store, api, glog.Nop())

	err := router.Route(context.Background(), EventEnvelope{
		Source:     "unregistered",
		InstanceID: "inst-1",
		Payload:    map[string]any{"kind": "deploy"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(api.posted) != 1 {
		t.Fatalf("expected one posted message, got %d", len(api.posted))
	}
	text := api.posted[0].Text
	if !strings.Contains(text, "unregistered") || !strings.Contains(text, `"kind": "deploy"`) {
		t.Fatalf("generic rendering missing payload: %q", text)
	}
}

func TestEventRouter_UnknownInstance(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	api := &stubChannelAPI{}
	router := NewEventRouter(store, api, glog.Nop())

	err := router.Route(context.Background(), EventEnvelope{
		Source:     "pipeline",
		InstanceID: "ghost",
	})
	if err == nil {
		t.Fatalf("expected unknown instance to fail")
	}
	if len(api.posted) != 0 {
		t.Fatalf("nothing must be posted for an unknown instance")
	}
}

func TestEventRouter_TombstonedInstanceReadsAsMissing(t *testing.T) {
	store := NewMemoryDocumentStore[ServiceInstance]()
	instance := ServiceInstance{ID: "inst-1", ChannelID: "C-ops", Deleted: true}
	if _, err := store.Put(context.Background(), "inst-1", instance, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	router := NewEventRouter(store, &stubChannelAPI{}, glog.Nop())

	if err := router.Route(context.Background(), EventEnvelope{InstanceID: "inst-1"}); err == nil {
		t.Fatalf("expected tombstoned instance to fail")
	}
}
