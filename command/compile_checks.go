package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProvisionMessage]   = (*ProvisionCommand)(nil)
	_ gocmd.Commander[PatchMessage]       = (*PatchCommand)(nil)
	_ gocmd.Commander[BindMessage]        = (*BindCommand)(nil)
	_ gocmd.Commander[UnbindMessage]      = (*UnbindCommand)(nil)
	_ gocmd.Commander[UnbindAllMessage]   = (*UnbindAllCommand)(nil)
	_ gocmd.Commander[DeprovisionMessage] = (*DeprovisionCommand)(nil)
	_ gocmd.Commander[RouteEventMessage]  = (*RouteEventCommand)(nil)
)
