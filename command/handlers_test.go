package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-channel-broker/core"
	gocmd "github.com/goliatone/go-command"
)

type stubMutatingService struct {
	provisionFn   func(ctx context.Context, req core.ProvisionRequest) (core.ProvisionResult, error)
	patchFn       func(ctx context.Context, req core.PatchRequest) (core.ProvisionResult, error)
	bindFn        func(ctx context.Context, req core.BindRequest) (core.ProvisionResult, error)
	unbindFn      func(ctx context.Context, req core.UnbindRequest) (core.ProvisionResult, error)
	unbindAllFn   func(ctx context.Context, instanceID string) (core.ProvisionResult, error)
	deprovisionFn func(ctx context.Context, instanceID string) error
	routeEventFn  func(ctx context.Context, event core.EventEnvelope) error
}

func (s stubMutatingService) Provision(ctx context.Context, req core.ProvisionRequest) (core.ProvisionResult, error) {
	return s.provisionFn(ctx, req)
}

func (s stubMutatingService) Patch(ctx context.Context, req core.PatchRequest) (core.ProvisionResult, error) {
	return s.patchFn(ctx, req)
}

func (s stubMutatingService) Bind(ctx context.Context, req core.BindRequest) (core.ProvisionResult, error) {
	return s.bindFn(ctx, req)
}

func (s stubMutatingService) Unbind(ctx context.Context, req core.UnbindRequest) (core.ProvisionResult, error) {
	return s.unbindFn(ctx, req)
}

func (s stubMutatingService) UnbindAll(ctx context.Context, instanceID string) (core.ProvisionResult, error) {
	return s.unbindAllFn(ctx, instanceID)
}

func (s stubMutatingService) Deprovision(ctx context.Context, instanceID string) error {
	return s.deprovisionFn(ctx, instanceID)
}

func (s stubMutatingService) RouteEvent(ctx context.Context, event core.EventEnvelope) error {
	return s.routeEventFn(ctx, event)
}

func TestProvisionCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.ProvisionResult{
		DashboardURL: "https://dashboard.example.com/instances/inst-1",
		Created:      true,
	}
	called := false

	svc := stubMutatingService{
		provisionFn: func(_ context.Context, req core.ProvisionRequest) (core.ProvisionResult, error) {
			called = true
			if req.InstanceID != "inst-1" {
				t.Fatalf("expected instance inst-1, got %q", req.InstanceID)
			}
			return expected, nil
		},
	}

	cmd := NewProvisionCommand(svc)
	collector := gocmd.NewResult[core.ProvisionResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ProvisionMessage{Request: core.ProvisionRequest{
		InstanceID: "inst-1",
		Parameters: core.InstanceParameters{APIToken: "xoxb-1", ChannelName: "release-alerts"},
	}})
	if err != nil {
		t.Fatalf("execute provision: %v", err)
	}
	if !called {
		t.Fatalf("expected provision service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.DashboardURL != expected.DashboardURL || !result.Created {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("bind", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			bindFn: func(_ context.Context, req core.BindRequest) (core.ProvisionResult, error) {
				called = true
				if req.InstanceID != "inst-1" || req.ToolchainID != "tc-1" {
					t.Fatalf("unexpected bind payload: %#v", req)
				}
				return core.ProvisionResult{Updated: true}, nil
			},
		}
		cmd := NewBindCommand(svc)
		collector := gocmd.NewResult[core.ProvisionResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, BindMessage{Request: core.BindRequest{
			InstanceID: "inst-1", ToolchainID: "tc-1", Credentials: "secret",
		}}); err != nil {
			t.Fatalf("execute bind: %v", err)
		}
		if !called {
			t.Fatalf("expected bind invocation")
		}
		if result, ok := collector.Load(); !ok || !result.Updated {
			t.Fatalf("expected stored bind result, got %#v ok=%v", result, ok)
		}
	})

	t.Run("deprovision", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			deprovisionFn: func(_ context.Context, instanceID string) error {
				called = true
				if instanceID != "inst-1" {
					t.Fatalf("unexpected instance id %q", instanceID)
				}
				return nil
			},
		}
		cmd := NewDeprovisionCommand(svc)
		if err := cmd.Execute(context.Background(), DeprovisionMessage{InstanceID: "inst-1"}); err != nil {
			t.Fatalf("execute deprovision: %v", err)
		}
		if !called {
			t.Fatalf("expected deprovision invocation")
		}
	})

	t.Run("route event", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			routeEventFn: func(_ context.Context, event core.EventEnvelope) error {
				called = true
				if event.Source != "pipeline" || event.InstanceID != "inst-1" {
					t.Fatalf("unexpected event payload: %#v", event)
				}
				return nil
			},
		}
		cmd := NewRouteEventCommand(svc)
		if err := cmd.Execute(context.Background(), RouteEventMessage{Event: core.EventEnvelope{
			Source: "pipeline", InstanceID: "inst-1",
		}}); err != nil {
			t.Fatalf("execute route event: %v", err)
		}
		if !called {
			t.Fatalf("expected route event invocation")
		}
	})
}

func TestMessages_Validate(t *testing.T) {
	if err := (ProvisionMessage{}).Validate(); err == nil {
		t.Fatalf("empty provision message must fail validation")
	}
	if err := (ProvisionMessage{Request: core.ProvisionRequest{InstanceID: "inst-1"}}).Validate(); err == nil {
		t.Fatalf("provision without token must fail validation")
	}
	if err := (BindMessage{Request: core.BindRequest{InstanceID: "inst-1", ToolchainID: "tc-1"}}).Validate(); err == nil {
		t.Fatalf("bind without credentials must fail validation")
	}
	if err := (UnbindMessage{Request: core.UnbindRequest{InstanceID: "inst-1", ToolchainID: "tc-1"}}).Validate(); err != nil {
		t.Fatalf("valid unbind message: %v", err)
	}
	if err := (RouteEventMessage{Event: core.EventEnvelope{Source: "pipeline"}}).Validate(); err == nil {
		t.Fatalf("event without instance id must fail validation")
	}
}

func TestCommands_RequireService(t *testing.T) {
	var cmd *ProvisionCommand
	if err := cmd.Execute(context.Background(), ProvisionMessage{}); err == nil {
		t.Fatalf("nil command must fail")
	}
	if err := NewRouteEventCommand(nil).Execute(context.Background(), RouteEventMessage{}); err == nil {
		t.Fatalf("command without service must fail")
	}
}
