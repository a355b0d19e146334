package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the provisioning lifecycle engine: it resolves channels,
// reconciles instance documents under optimistic concurrency, manages
// toolchain bindings, and routes inbound events to bound channels.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	store             InstanceStore
	channels          ChannelAPI
	resolver          *ChannelResolver
	credentials       *CredentialCache
	toolchains        ToolchainDirectory
	router            *EventRouter
	async             func(func())
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	provider, logger := glog.Resolve(finalConfig.ServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(finalConfig.ServiceName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	store := builder.instanceStore
	if store == nil && builder.repositoryFactory != nil {
		switch factory := builder.repositoryFactory.(type) {
		case RepositoryStoreFactory:
			storeProvider, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				store = storeProvider.InstanceStore()
			}
		case InstanceStoreProvider:
			store = factory.InstanceStore()
		}
	}
	if store == nil {
		store = NewMemoryDocumentStore[ServiceInstance]()
	}

	resolver := builder.channelResolver
	if resolver == nil && builder.channelAPI != nil {
		resolver, err = NewChannelResolver(builder.channelAPI, logger,
			WithResolverAttempts(finalConfig.Resolver.Attempts),
			WithResolverBackoff(finalConfig.Resolver.Backoff()),
			WithResolverProductName(finalConfig.ProductName),
		)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	credentials := builder.credentialCache
	if credentials == nil && builder.exchanger != nil {
		credentials, err = NewCredentialCache(builder.exchanger, finalConfig.Cache.IntrospectionTTL())
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	toolchains := builder.toolchains
	if toolchains != nil {
		cached, cacheErr := NewDisplayNameCache(toolchains, finalConfig.Cache.DisplayNameTTL())
		if cacheErr != nil {
			return nil, mapBuildError(builder.errorMapper, cacheErr)
		}
		toolchains = cached
	}

	router := NewEventRouter(store, builder.channelAPI, logger)
	for source, formatter := range builder.formatters {
		router.Register(source, formatter)
	}

	async := builder.asyncRunner
	if async == nil {
		async = func(fn func()) { go fn() }
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		store:             store,
		channels:          builder.channelAPI,
		resolver:          resolver,
		credentials:       credentials,
		toolchains:        toolchains,
		router:            router,
		async:             async,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return glog.Ensure(s.logger)
}

func (s *Service) Credentials() *CredentialCache {
	if s == nil {
		return nil
	}
	return s.credentials
}

func (s *Service) Events() *EventRouter {
	if s == nil {
		return nil
	}
	return s.router
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if isDocumentNotFound(err) {
		err = fmt.Errorf("%w: %v", ErrInstanceNotFound, err)
	}
	if s != nil && s.errorMapper != nil {
		if mapped := s.errorMapper(err); mapped != nil {
			return mapped
		}
	}
	return err
}

func (s *Service) runAsync(fn func()) {
	if s == nil || fn == nil {
		return
	}
	if s.async != nil {
		s.async(fn)
		return
	}
	go fn()
}

// Provision creates the instance document, or brings an existing one in
// line with the request. The channel is resolved before any write: an
// explicit channel id wins over a channel name, a tombstoned document is
// revived, and an identical request results in no write at all.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	startedAt := time.Now()
	instanceID := strings.TrimSpace(req.InstanceID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "provision", err, map[string]any{
			"instance_id": instanceID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return ProvisionResult{}, err
	}
	if instanceID == "" {
		err = newBrokerError("core: instance id is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}
	token := strings.TrimSpace(req.Parameters.APIToken)
	if token == "" {
		err = newBrokerError("core: api token is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}
	if s.resolver == nil || s.channels == nil {
		err = fmt.Errorf("core: channel api is not configured")
		return ProvisionResult{}, err
	}

	if _, identityErr := s.channels.IdentityCheck(ctx, token); identityErr != nil {
		err = s.mapError(fmt.Errorf("%w: %v", ErrUnauthorized, identityErr))
		return ProvisionResult{}, err
	}

	resolution, resolveErr := s.resolver.Resolve(ctx, ResolveChannelRequest{
		Token:       token,
		ChannelID:   req.Parameters.ChannelID,
		ChannelName: req.Parameters.ChannelName,
		Topic:       req.Parameters.ChannelTopic,
		Purpose:     req.Parameters.ChannelPurpose,
	})
	if resolveErr != nil {
		err = s.mapError(resolveErr)
		return ProvisionResult{}, err
	}

	desired := ServiceInstance{
		ID:                  instanceID,
		OrganizationID:      strings.TrimSpace(req.OrganizationID),
		ChannelID:           resolution.Channel.ID,
		DashboardURL:        s.config.DashboardURL(instanceID),
		Parameters:          req.Parameters,
		ChannelNewlyCreated: resolution.WasCreated,
	}
	if req.HasServiceCredentials {
		desired.ServiceCredentials = req.ServiceCredentials
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.New = func() (ServiceInstance, error) {
		return desired, nil
	}
	reconcileReq.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		candidate := desired
		candidate.ToolchainBindings = stored.ToolchainBindings
		if !req.HasServiceCredentials {
			candidate.ServiceCredentials = stored.ServiceCredentials
		}
		return candidate, nil
	}
	reconcileReq.ShouldUpdate = func(stored ServiceInstance, candidate ServiceInstance) bool {
		return !stored.SameIdentity(candidate)
	}

	result, reconcileErr := Reconcile(ctx, s.store, reconcileReq)
	if reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return ProvisionResult{}, err
	}
	return ProvisionResult{
		Instance:     result.Document,
		DashboardURL: result.Document.DashboardURL,
		Created:      result.Created,
		Updated:      result.Written && !result.Created,
	}, nil
}

// Patch updates the patchable parameter subset of an existing instance.
// Omitted parameters keep their stored values; changing the channel name
// or id clears the newly-created mark unless this patch itself creates
// the channel.
func (s *Service) Patch(ctx context.Context, req PatchRequest) (ProvisionResult, error) {
	startedAt := time.Now()
	instanceID := strings.TrimSpace(req.InstanceID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "patch", err, map[string]any{
			"instance_id": instanceID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return ProvisionResult{}, err
	}
	if instanceID == "" {
		err = newBrokerError("core: instance id is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}
	if s.resolver == nil || s.channels == nil {
		err = fmt.Errorf("core: channel api is not configured")
		return ProvisionResult{}, err
	}

	stored, _, getErr := s.store.Get(ctx, instanceID)
	if getErr != nil {
		err = s.mapError(getErr)
		return ProvisionResult{}, err
	}
	if stored.Deleted {
		err = s.mapError(fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID))
		return ProvisionResult{}, err
	}

	patch := req.Parameters
	effective := stored.Parameters
	if value := strings.TrimSpace(patch.APIToken); value != "" {
		effective.APIToken = value
	}
	if value := strings.TrimSpace(patch.ChannelID); value != "" {
		effective.ChannelID = value
	}
	if value := strings.TrimSpace(patch.ChannelName); value != "" {
		effective.ChannelName = value
	}
	if value := strings.TrimSpace(patch.ChannelTopic); value != "" {
		effective.ChannelTopic = value
	}
	if value := strings.TrimSpace(patch.ChannelPurpose); value != "" {
		effective.ChannelPurpose = value
	}
	if strings.TrimSpace(effective.APIToken) == "" {
		err = newBrokerError("core: api token is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}

	if _, identityErr := s.channels.IdentityCheck(ctx, effective.APIToken); identityErr != nil {
		err = s.mapError(fmt.Errorf("%w: %v", ErrUnauthorized, identityErr))
		return ProvisionResult{}, err
	}

	newlyCreated := stored.ChannelNewlyCreated
	patchName := strings.TrimSpace(patch.ChannelName)
	patchID := strings.TrimSpace(patch.ChannelID)
	if patchName != "" && patchName != stored.Parameters.ChannelName {
		newlyCreated = false
	} else if patchID != "" && patchID != stored.ChannelID {
		newlyCreated = false
	}

	resolveID := patchID
	if resolveID == "" && patchName == "" {
		resolveID = stored.ChannelID
	}
	resolution, resolveErr := s.resolver.Resolve(ctx, ResolveChannelRequest{
		Token:       effective.APIToken,
		ChannelID:   resolveID,
		ChannelName: patchName,
		Topic:       effective.ChannelTopic,
		Purpose:     effective.ChannelPurpose,
	})
	if resolveErr != nil {
		err = s.mapError(resolveErr)
		return ProvisionResult{}, err
	}
	if resolution.WasCreated {
		newlyCreated = true
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.ShouldCreate = false
	reconcileReq.Existing = func(current ServiceInstance) (ServiceInstance, error) {
		if current.Deleted {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		candidate := current
		candidate.Parameters = effective
		candidate.ChannelID = resolution.Channel.ID
		candidate.ChannelNewlyCreated = newlyCreated
		if dashboard := s.config.DashboardURL(instanceID); dashboard != "" {
			candidate.DashboardURL = dashboard
		}
		return candidate, nil
	}
	reconcileReq.ShouldUpdate = func(current ServiceInstance, candidate ServiceInstance) bool {
		return !current.SameIdentity(candidate)
	}

	result, reconcileErr := Reconcile(ctx, s.store, reconcileReq)
	if reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return ProvisionResult{}, err
	}

	if resolution.WasCreated && len(result.Document.ToolchainBindings) > 0 {
		binding := result.Document.ToolchainBindings[0]
		instance := result.Document
		s.runAsync(func() {
			s.propagateChannelTheme(context.Background(), instance, binding.ToolchainID, binding.Credentials)
		})
	}

	return ProvisionResult{
		Instance:     result.Document,
		DashboardURL: result.Document.DashboardURL,
		Updated:      result.Written,
	}, nil
}

// Bind records a toolchain binding on the instance. Binding an already
// bound toolchain id is an idempotent no-op. When the instance's channel
// was created by this system, the channel theme is refreshed with the
// toolchain's display name as a fire-and-forget side effect.
func (s *Service) Bind(ctx context.Context, req BindRequest) (ProvisionResult, error) {
	startedAt := time.Now()
	instanceID := strings.TrimSpace(req.InstanceID)
	toolchainID := strings.TrimSpace(req.ToolchainID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "bind", err, map[string]any{
			"instance_id":  instanceID,
			"toolchain_id": toolchainID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return ProvisionResult{}, err
	}
	if instanceID == "" || toolchainID == "" {
		err = newBrokerError("core: instance id and toolchain id are required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}
	if strings.TrimSpace(req.Credentials) == "" {
		err = newBrokerError("core: toolchain credentials are required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.ShouldCreate = false
	reconcileReq.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		if stored.Deleted {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return stored.WithBinding(ToolchainBinding{
			ToolchainID: toolchainID,
			Credentials: req.Credentials,
		}), nil
	}
	reconcileReq.ShouldUpdate = func(stored ServiceInstance, _ ServiceInstance) bool {
		return !stored.HasBinding(toolchainID)
	}

	result, reconcileErr := Reconcile(ctx, s.store, reconcileReq)
	if reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return ProvisionResult{}, err
	}

	if result.Written && result.Document.ChannelNewlyCreated {
		instance := result.Document
		credentials := req.Credentials
		s.runAsync(func() {
			s.propagateChannelTheme(context.Background(), instance, toolchainID, credentials)
		})
	}
	return ProvisionResult{
		Instance:     result.Document,
		DashboardURL: result.Document.DashboardURL,
		Updated:      result.Written,
	}, nil
}

// Unbind removes one toolchain binding. Unbinding an absent toolchain id
// is a tolerated no-op, not an error.
func (s *Service) Unbind(ctx context.Context, req UnbindRequest) (ProvisionResult, error) {
	startedAt := time.Now()
	instanceID := strings.TrimSpace(req.InstanceID)
	toolchainID := strings.TrimSpace(req.ToolchainID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "unbind", err, map[string]any{
			"instance_id":  instanceID,
			"toolchain_id": toolchainID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return ProvisionResult{}, err
	}
	if instanceID == "" || toolchainID == "" {
		err = newBrokerError("core: instance id and toolchain id are required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.ShouldCreate = false
	reconcileReq.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		if stored.Deleted {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return stored.WithoutBinding(toolchainID), nil
	}
	reconcileReq.ShouldUpdate = func(stored ServiceInstance, _ ServiceInstance) bool {
		return stored.HasBinding(toolchainID)
	}

	result, reconcileErr := Reconcile(ctx, s.store, reconcileReq)
	if reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return ProvisionResult{}, err
	}
	return ProvisionResult{
		Instance:     result.Document,
		DashboardURL: result.Document.DashboardURL,
		Updated:      result.Written,
	}, nil
}

// UnbindAll removes every toolchain binding from the instance.
func (s *Service) UnbindAll(ctx context.Context, instanceID string) (ProvisionResult, error) {
	startedAt := time.Now()
	instanceID = strings.TrimSpace(instanceID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "unbind_all", err, map[string]any{
			"instance_id": instanceID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return ProvisionResult{}, err
	}
	if instanceID == "" {
		err = newBrokerError("core: instance id is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return ProvisionResult{}, err
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.ShouldCreate = false
	reconcileReq.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		if stored.Deleted {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		next := stored
		next.ToolchainBindings = nil
		return next, nil
	}
	reconcileReq.ShouldUpdate = func(stored ServiceInstance, _ ServiceInstance) bool {
		return len(stored.ToolchainBindings) > 0
	}

	result, reconcileErr := Reconcile(ctx, s.store, reconcileReq)
	if reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return ProvisionResult{}, err
	}
	return ProvisionResult{
		Instance:     result.Document,
		DashboardURL: result.Document.DashboardURL,
		Updated:      result.Written,
	}, nil
}

// Deprovision tombstones the instance document: credentials scrubbed,
// bindings cleared, tombstone flag set. The record stays in the store so a
// later provision of the same id runs the update path. Deprovisioning a
// tombstoned or unknown instance reports not-found.
func (s *Service) Deprovision(ctx context.Context, instanceID string) error {
	startedAt := time.Now()
	instanceID = strings.TrimSpace(instanceID)
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "deprovision", err, map[string]any{
			"instance_id": instanceID,
		})
	}()

	if s == nil || s.store == nil {
		err = fmt.Errorf("core: service is not configured")
		return err
	}
	if instanceID == "" {
		err = newBrokerError("core: instance id is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
		return err
	}

	reconcileReq := NewReconcileRequest[ServiceInstance](instanceID)
	reconcileReq.ShouldCreate = false
	reconcileReq.Existing = func(stored ServiceInstance) (ServiceInstance, error) {
		if stored.Deleted {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return stored.Tombstoned(), nil
	}

	if _, reconcileErr := Reconcile(ctx, s.store, reconcileReq); reconcileErr != nil {
		err = s.mapError(reconcileErr)
		return err
	}
	return nil
}

// GetInstance returns the stored document. A tombstoned instance reads as
// not found.
func (s *Service) GetInstance(ctx context.Context, instanceID string) (ServiceInstance, error) {
	if s == nil || s.store == nil {
		return ServiceInstance{}, fmt.Errorf("core: service is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return ServiceInstance{}, newBrokerError("core: instance id is required", goerrors.CategoryBadInput, BrokerErrorBadInput)
	}
	instance, _, err := s.store.Get(ctx, instanceID)
	if err != nil {
		return ServiceInstance{}, s.mapError(err)
	}
	if instance.Deleted {
		return ServiceInstance{}, s.mapError(fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID))
	}
	return instance, nil
}

// RouteEvent forwards an inbound event to the instance's bound channel.
func (s *Service) RouteEvent(ctx context.Context, event EventEnvelope) error {
	startedAt := time.Now()
	var err error
	defer func() {
		s.observeOperation(ctx, startedAt, "route_event", err, map[string]any{
			"instance_id": event.InstanceID,
			"source":      event.Source,
		})
	}()

	if s == nil || s.router == nil {
		err = fmt.Errorf("core: service is not configured")
		return err
	}
	if routeErr := s.router.Route(ctx, event); routeErr != nil {
		err = s.mapError(routeErr)
		return err
	}
	return nil
}

// propagateChannelTheme refreshes the topic and purpose of a channel this
// system created, naming the bound toolchain. Failures are logged, never
// surfaced: the binding already succeeded.
func (s *Service) propagateChannelTheme(ctx context.Context, instance ServiceInstance, toolchainID string, credentials string) {
	if s == nil || s.channels == nil {
		return
	}
	token := strings.TrimSpace(instance.Parameters.APIToken)
	channelID := strings.TrimSpace(instance.ChannelID)
	if token == "" || channelID == "" {
		return
	}

	productName := strings.TrimSpace(s.config.ProductName)
	if productName == "" {
		productName = "DevOps Toolchain"
	}
	text := "Notifications from " + productName
	if s.toolchains != nil {
		name, err := s.toolchains.DisplayName(ctx, toolchainID, credentials)
		if err != nil {
			s.logError(ctx, "toolchain display name lookup failed", map[string]any{
				"instance_id":  instance.ID,
				"toolchain_id": toolchainID,
				"error":        err.Error(),
			})
		} else if strings.TrimSpace(name) != "" {
			text = "Notifications from " + strings.TrimSpace(name)
		}
	}

	if err := s.channels.SetTopic(ctx, token, channelID, text); err != nil {
		s.logError(ctx, "channel topic propagation failed", map[string]any{
			"instance_id":  instance.ID,
			"toolchain_id": toolchainID,
			"error":        err.Error(),
		})
	}
	if err := s.channels.SetPurpose(ctx, token, channelID, text); err != nil {
		s.logError(ctx, "channel purpose propagation failed", map[string]any{
			"instance_id":  instance.ID,
			"toolchain_id": toolchainID,
			"error":        err.Error(),
		})
	}
}
