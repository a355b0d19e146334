package sqlstore

import (
	"github.com/goliatone/go-channel-broker/core"
)

var (
	_ core.InstanceStore          = (*InstanceStore)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.InstanceStoreProvider  = (*RepositoryFactory)(nil)
)
