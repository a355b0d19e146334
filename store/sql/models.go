package sqlstore

import (
	"time"

	"github.com/goliatone/go-channel-broker/core"
	"github.com/uptrace/bun"
)

type instanceRecord struct {
	bun.BaseModel `bun:"table:service_instances,alias:si"`

	ID                  string                  `bun:"id,pk"`
	OrganizationID      string                  `bun:"organization_id"`
	ChannelID           string                  `bun:"channel_id"`
	DashboardURL        string                  `bun:"dashboard_url"`
	Parameters          core.InstanceParameters `bun:"parameters,type:jsonb,notnull"`
	ServiceCredentials  string                  `bun:"service_credentials"`
	ChannelNewlyCreated bool                    `bun:"channel_newly_created,notnull"`
	ToolchainBindings   []core.ToolchainBinding `bun:"toolchain_bindings,type:jsonb"`
	Deleted             bool                    `bun:"deleted,notnull"`
	Revision            int64                   `bun:"revision,notnull"`
	CreatedAt           time.Time               `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time               `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *instanceRecord) toDomain() core.ServiceInstance {
	if r == nil {
		return core.ServiceInstance{}
	}
	return core.ServiceInstance{
		ID:                  r.ID,
		OrganizationID:      r.OrganizationID,
		ChannelID:           r.ChannelID,
		DashboardURL:        r.DashboardURL,
		Parameters:          r.Parameters,
		ServiceCredentials:  r.ServiceCredentials,
		ChannelNewlyCreated: r.ChannelNewlyCreated,
		ToolchainBindings:   append([]core.ToolchainBinding(nil), r.ToolchainBindings...),
		Deleted:             r.Deleted,
	}
}

func newInstanceRecord(id string, doc core.ServiceInstance, revision int64, now time.Time) *instanceRecord {
	return &instanceRecord{
		ID:                  id,
		OrganizationID:      doc.OrganizationID,
		ChannelID:           doc.ChannelID,
		DashboardURL:        doc.DashboardURL,
		Parameters:          doc.Parameters,
		ServiceCredentials:  doc.ServiceCredentials,
		ChannelNewlyCreated: doc.ChannelNewlyCreated,
		ToolchainBindings:   append([]core.ToolchainBinding(nil), doc.ToolchainBindings...),
		Deleted:             doc.Deleted,
		Revision:            revision,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
