package broker

import (
	"fmt"

	brokercommand "github.com/goliatone/go-channel-broker/command"
	"github.com/goliatone/go-channel-broker/core"
)

var _ brokercommand.MutatingService = (*core.Service)(nil)

type Commands struct {
	Provision   *brokercommand.ProvisionCommand
	Patch       *brokercommand.PatchCommand
	Bind        *brokercommand.BindCommand
	Unbind      *brokercommand.UnbindCommand
	UnbindAll   *brokercommand.UnbindAllCommand
	Deprovision *brokercommand.DeprovisionCommand
	RouteEvent  *brokercommand.RouteEventCommand
}

// Facade bundles the lifecycle service with its command handlers so hosts
// can register them on a dispatcher in one step.
type Facade struct {
	service  brokercommand.MutatingService
	commands Commands
}

func NewFacade(service brokercommand.MutatingService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("broker: lifecycle service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			Provision:   brokercommand.NewProvisionCommand(service),
			Patch:       brokercommand.NewPatchCommand(service),
			Bind:        brokercommand.NewBindCommand(service),
			Unbind:      brokercommand.NewUnbindCommand(service),
			UnbindAll:   brokercommand.NewUnbindAllCommand(service),
			Deprovision: brokercommand.NewDeprovisionCommand(service),
			RouteEvent:  brokercommand.NewRouteEventCommand(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Service() brokercommand.MutatingService {
	if f == nil {
		return nil
	}
	return f.service
}
