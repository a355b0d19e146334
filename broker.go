package broker

import "github.com/goliatone/go-channel-broker/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type InstanceStore = core.InstanceStore
type ChannelAPI = core.ChannelAPI
type CredentialExchanger = core.CredentialExchanger
type ToolchainDirectory = core.ToolchainDirectory
type EventFormatter = core.EventFormatter
type MetricsRecorder = core.MetricsRecorder

type ServiceInstance = core.ServiceInstance
type InstanceParameters = core.InstanceParameters
type ToolchainBinding = core.ToolchainBinding
type EventEnvelope = core.EventEnvelope

type ProvisionRequest = core.ProvisionRequest
type PatchRequest = core.PatchRequest
type BindRequest = core.BindRequest
type UnbindRequest = core.UnbindRequest
type ProvisionResult = core.ProvisionResult

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithErrorFactory        = core.WithErrorFactory
	WithErrorMapper         = core.WithErrorMapper
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithInstanceStore       = core.WithInstanceStore
	WithChannelAPI          = core.WithChannelAPI
	WithChannelResolver     = core.WithChannelResolver
	WithCredentialCache     = core.WithCredentialCache
	WithCredentialExchanger = core.WithCredentialExchanger
	WithToolchainDirectory  = core.WithToolchainDirectory
	WithEventFormatter      = core.WithEventFormatter
	WithAsyncRunner         = core.WithAsyncRunner
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
