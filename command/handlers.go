package command

import (
	"context"

	"github.com/goliatone/go-channel-broker/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService is the lifecycle surface the commands drive.
type MutatingService interface {
	Provision(ctx context.Context, req core.ProvisionRequest) (core.ProvisionResult, error)
	Patch(ctx context.Context, req core.PatchRequest) (core.ProvisionResult, error)
	Bind(ctx context.Context, req core.BindRequest) (core.ProvisionResult, error)
	Unbind(ctx context.Context, req core.UnbindRequest) (core.ProvisionResult, error)
	UnbindAll(ctx context.Context, instanceID string) (core.ProvisionResult, error)
	Deprovision(ctx context.Context, instanceID string) error
	RouteEvent(ctx context.Context, event core.EventEnvelope) error
}

type ProvisionCommand struct {
	service MutatingService
}

func NewProvisionCommand(service MutatingService) *ProvisionCommand {
	return &ProvisionCommand{service: service}
}

func (c *ProvisionCommand) Execute(ctx context.Context, msg ProvisionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: provision service is required")
	}
	out, err := c.service.Provision(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PatchCommand struct {
	service MutatingService
}

func NewPatchCommand(service MutatingService) *PatchCommand {
	return &PatchCommand{service: service}
}

func (c *PatchCommand) Execute(ctx context.Context, msg PatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: patch service is required")
	}
	out, err := c.service.Patch(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type BindCommand struct {
	service MutatingService
}

func NewBindCommand(service MutatingService) *BindCommand {
	return &BindCommand{service: service}
}

func (c *BindCommand) Execute(ctx context.Context, msg BindMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: bind service is required")
	}
	out, err := c.service.Bind(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnbindCommand struct {
	service MutatingService
}

func NewUnbindCommand(service MutatingService) *UnbindCommand {
	return &UnbindCommand{service: service}
}

func (c *UnbindCommand) Execute(ctx context.Context, msg UnbindMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: unbind service is required")
	}
	out, err := c.service.Unbind(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnbindAllCommand struct {
	service MutatingService
}

func NewUnbindAllCommand(service MutatingService) *UnbindAllCommand {
	return &UnbindAllCommand{service: service}
}

func (c *UnbindAllCommand) Execute(ctx context.Context, msg UnbindAllMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: unbind service is required")
	}
	out, err := c.service.UnbindAll(ctx, msg.InstanceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeprovisionCommand struct {
	service MutatingService
}

func NewDeprovisionCommand(service MutatingService) *DeprovisionCommand {
	return &DeprovisionCommand{service: service}
}

func (c *DeprovisionCommand) Execute(ctx context.Context, msg DeprovisionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deprovision service is required")
	}
	return c.service.Deprovision(ctx, msg.InstanceID)
}

type RouteEventCommand struct {
	service MutatingService
}

func NewRouteEventCommand(service MutatingService) *RouteEventCommand {
	return &RouteEventCommand{service: service}
}

func (c *RouteEventCommand) Execute(ctx context.Context, msg RouteEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event routing service is required")
	}
	return c.service.RouteEvent(ctx, msg.Event)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
