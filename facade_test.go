package broker

import (
	"testing"

	"github.com/goliatone/go-channel-broker/core"
)

func TestNewFacade_WiresAllCommands(t *testing.T) {
	svc, err := NewService(Config{},
		WithInstanceStore(core.NewMemoryDocumentStore[core.ServiceInstance]()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.Provision == nil || commands.Patch == nil || commands.Bind == nil ||
		commands.Unbind == nil || commands.UnbindAll == nil ||
		commands.Deprovision == nil || commands.RouteEvent == nil {
		t.Fatalf("facade left commands unwired: %+v", commands)
	}
	if facade.Service() == nil {
		t.Fatalf("expected service accessor")
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}
