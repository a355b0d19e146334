package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-channel-broker/core"
)

const (
	TypeProvision   = "broker.command.provision"
	TypePatch       = "broker.command.patch"
	TypeBind        = "broker.command.bind"
	TypeUnbind      = "broker.command.unbind"
	TypeUnbindAll   = "broker.command.unbind_all"
	TypeDeprovision = "broker.command.deprovision"
	TypeRouteEvent  = "broker.command.route_event"
)

type ProvisionMessage struct {
	Request core.ProvisionRequest
}

func (ProvisionMessage) Type() string { return TypeProvision }

func (m ProvisionMessage) Validate() error {
	if strings.TrimSpace(m.Request.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	if strings.TrimSpace(m.Request.Parameters.APIToken) == "" {
		return fmt.Errorf("command: api token is required")
	}
	return nil
}

type PatchMessage struct {
	Request core.PatchRequest
}

func (PatchMessage) Type() string { return TypePatch }

func (m PatchMessage) Validate() error {
	if strings.TrimSpace(m.Request.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	return nil
}

type BindMessage struct {
	Request core.BindRequest
}

func (BindMessage) Type() string { return TypeBind }

func (m BindMessage) Validate() error {
	if strings.TrimSpace(m.Request.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	if strings.TrimSpace(m.Request.ToolchainID) == "" {
		return fmt.Errorf("command: toolchain id is required")
	}
	if strings.TrimSpace(m.Request.Credentials) == "" {
		return fmt.Errorf("command: toolchain credentials are required")
	}
	return nil
}

type UnbindMessage struct {
	Request core.UnbindRequest
}

func (UnbindMessage) Type() string { return TypeUnbind }

func (m UnbindMessage) Validate() error {
	if strings.TrimSpace(m.Request.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	if strings.TrimSpace(m.Request.ToolchainID) == "" {
		return fmt.Errorf("command: toolchain id is required")
	}
	return nil
}

type UnbindAllMessage struct {
	InstanceID string
}

func (UnbindAllMessage) Type() string { return TypeUnbindAll }

func (m UnbindAllMessage) Validate() error {
	if strings.TrimSpace(m.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	return nil
}

type DeprovisionMessage struct {
	InstanceID string
}

func (DeprovisionMessage) Type() string { return TypeDeprovision }

func (m DeprovisionMessage) Validate() error {
	if strings.TrimSpace(m.InstanceID) == "" {
		return fmt.Errorf("command: instance id is required")
	}
	return nil
}

type RouteEventMessage struct {
	Event core.EventEnvelope
}

func (RouteEventMessage) Type() string { return TypeRouteEvent }

func (m RouteEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.InstanceID) == "" {
		return fmt.Errorf("command: event instance id is required")
	}
	return nil
}
