package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// InstanceStoreProvider is what a repository factory yields.
type InstanceStoreProvider interface {
	InstanceStore() InstanceStore
}

// RepositoryStoreFactory builds the instance store from a persistence
// client (a *bun.DB or a go-persistence-bun client).
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (InstanceStoreProvider, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	instanceStore     InstanceStore
	channelAPI        ChannelAPI
	channelResolver   *ChannelResolver
	credentialCache   *CredentialCache
	exchanger         CredentialExchanger
	toolchains        ToolchainDirectory
	formatters        map[string]EventFormatter
	asyncRunner       func(func())
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithInstanceStore(store InstanceStore) Option {
	return func(b *serviceBuilder) {
		b.instanceStore = store
	}
}

func WithChannelAPI(api ChannelAPI) Option {
	return func(b *serviceBuilder) {
		b.channelAPI = api
	}
}

func WithChannelResolver(resolver *ChannelResolver) Option {
	return func(b *serviceBuilder) {
		b.channelResolver = resolver
	}
}

func WithCredentialCache(cache *CredentialCache) Option {
	return func(b *serviceBuilder) {
		b.credentialCache = cache
	}
}

func WithCredentialExchanger(exchanger CredentialExchanger) Option {
	return func(b *serviceBuilder) {
		b.exchanger = exchanger
	}
}

func WithToolchainDirectory(directory ToolchainDirectory) Option {
	return func(b *serviceBuilder) {
		b.toolchains = directory
	}
}

func WithEventFormatter(source string, formatter EventFormatter) Option {
	return func(b *serviceBuilder) {
		if b.formatters == nil {
			b.formatters = map[string]EventFormatter{}
		}
		b.formatters[strings.TrimSpace(strings.ToLower(source))] = formatter
	}
}

// WithAsyncRunner replaces the goroutine used for fire-and-forget side
// operations; tests install a synchronous runner.
func WithAsyncRunner(run func(func())) Option {
	return func(b *serviceBuilder) {
		b.asyncRunner = run
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	return serviceBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return brokerErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.ProductName) != "" {
		layer["product_name"] = cfg.ProductName
	}
	if includeZero || strings.TrimSpace(cfg.DashboardBaseURL) != "" {
		layer["dashboard_base_url"] = cfg.DashboardBaseURL
	}
	if includeZero || cfg.Resolver.Attempts > 0 || cfg.Resolver.BackoffSeconds > 0 {
		layer["resolver"] = map[string]any{
			"attempts":        cfg.Resolver.Attempts,
			"backoff_seconds": cfg.Resolver.BackoffSeconds,
		}
	}
	if includeZero || cfg.Cache.IntrospectionTTLSeconds > 0 || cfg.Cache.DisplayNameTTLSeconds > 0 {
		layer["cache"] = map[string]any{
			"introspection_ttl_seconds": cfg.Cache.IntrospectionTTLSeconds,
			"display_name_ttl_seconds":  cfg.Cache.DisplayNameTTLSeconds,
		}
	}
	return layer
}
