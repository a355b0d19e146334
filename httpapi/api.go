// Package httpapi exposes the provisioning lifecycle and event ingestion
// over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-channel-broker/core"
	"github.com/goliatone/go-channel-broker/inbound"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultRequestTimeout = 60 * time.Second

// LifecycleService is the broker surface the API serves.
type LifecycleService interface {
	Provision(ctx context.Context, req core.ProvisionRequest) (core.ProvisionResult, error)
	Patch(ctx context.Context, req core.PatchRequest) (core.ProvisionResult, error)
	Bind(ctx context.Context, req core.BindRequest) (core.ProvisionResult, error)
	Unbind(ctx context.Context, req core.UnbindRequest) (core.ProvisionResult, error)
	UnbindAll(ctx context.Context, instanceID string) (core.ProvisionResult, error)
	Deprovision(ctx context.Context, instanceID string) error
	RouteEvent(ctx context.Context, event core.EventEnvelope) error
}

type API struct {
	service    LifecycleService
	dispatcher *inbound.Dispatcher
	logger     core.Logger
	timeout    time.Duration
}

type Option func(*API)

func WithLogger(logger core.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDispatcher routes event ingestion through delivery deduplication.
func WithDispatcher(dispatcher *inbound.Dispatcher) Option {
	return func(a *API) {
		if dispatcher != nil {
			a.dispatcher = dispatcher
		}
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(a *API) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

func New(service LifecycleService, opts ...Option) *API {
	api := &API{
		service: service,
		logger:  glog.Nop(),
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(api)
		}
	}
	if api.dispatcher == nil {
		api.dispatcher = inbound.NewDispatcher(
			inbound.NewInMemoryClaimStore(),
			api.routeEvent,
		)
	} else if api.dispatcher.Handler == nil {
		api.dispatcher.Handler = api.routeEvent
	}
	return api
}

func (a *API) routeEvent(ctx context.Context, event core.EventEnvelope) error {
	return a.service.RouteEvent(ctx, event)
}

// Routes builds the chi router for the full API surface.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.timeout))
	r.Use(requestLogger(a.logger))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/service_instances/{instanceID}", func(r chi.Router) {
			r.Put("/", a.handleProvision)
			r.Patch("/", a.handlePatch)
			r.Delete("/", a.handleDeprovision)

			r.Route("/toolchains", func(r chi.Router) {
				r.Delete("/", a.handleUnbindAll)
				r.Put("/{toolchainID}", a.handleBind)
				r.Delete("/{toolchainID}", a.handleUnbind)
			})
		})
		r.Post("/events", a.handleEvent)
	})
	return r
}
