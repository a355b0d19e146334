// Package exchange implements the credential exchange provider contract
// against an HTTP token service.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-channel-broker/core"
	"github.com/goliatone/go-channel-broker/transport"
	goerrors "github.com/goliatone/go-errors"
)

const defaultRequestTimeout = 10 * time.Second

const (
	exchangePath   = "/v1/exchange"
	introspectPath = "/v1/introspect"
)

type Exchanger struct {
	baseURL   string
	transport core.TransportAdapter
	timeout   time.Duration
}

type Option func(*Exchanger)

func WithTransport(adapter core.TransportAdapter) Option {
	return func(e *Exchanger) {
		if adapter != nil {
			e.transport = adapter
		}
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(e *Exchanger) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func NewExchanger(baseURL string, opts ...Option) (*Exchanger, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("exchange: base url is required")
	}
	exchanger := &Exchanger{
		baseURL:   baseURL,
		transport: transport.NewRESTAdapter(nil),
		timeout:   defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(exchanger)
		}
	}
	return exchanger, nil
}

type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type introspectResponse struct {
	Active   bool           `json:"active"`
	Subject  string         `json:"sub"`
	Metadata map[string]any `json:"metadata"`
}

func (e *Exchanger) Exchange(ctx context.Context, authHeader string, opts core.ExchangeOptions) (core.Credentials, error) {
	body, err := e.post(ctx, exchangePath, authHeader, map[string]any{
		"target":    strings.TrimSpace(opts.Target),
		"toolchain": strings.TrimSpace(opts.Toolchain),
	})
	if err != nil {
		return core.Credentials{}, err
	}

	var payload exchangeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.Credentials{}, exchangeProtocolError(exchangePath, "undecodable response body")
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.Credentials{}, exchangeProtocolError(exchangePath, "response carries no access token")
	}
	return core.Credentials{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresIn:    payload.ExpiresIn,
	}, nil
}

func (e *Exchanger) Introspect(ctx context.Context, authHeader string, creds core.Credentials) (core.UserData, error) {
	body, err := e.post(ctx, introspectPath, authHeader, map[string]any{
		"token": creds.AccessToken,
	})
	if err != nil {
		return core.UserData{}, err
	}

	var payload introspectResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.UserData{}, exchangeProtocolError(introspectPath, "undecodable response body")
	}
	return core.UserData{
		Active:   payload.Active,
		Subject:  payload.Subject,
		Metadata: payload.Metadata,
	}, nil
}

func (e *Exchanger) post(ctx context.Context, path string, authHeader string, params map[string]any) ([]byte, error) {
	if e == nil || e.transport == nil {
		return nil, goerrors.New(
			"exchange: transport is not configured",
			goerrors.CategoryInternal,
		).WithCode(http.StatusInternalServerError).WithTextCode(core.BrokerErrorInternal)
	}
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return nil, fmt.Errorf("%w: authorization header is required", core.ErrUnauthorized)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "exchange: encode request").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.BrokerErrorBadInput)
	}

	res, err := e.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    e.baseURL + path,
		Headers: map[string]string{
			"Authorization": authHeader,
			"Content-Type":  "application/json; charset=utf-8",
		},
		Body:    body,
		Timeout: e.timeout,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode == http.StatusOK:
		return res.Body, nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned status %d", core.ErrUnauthorized, path, res.StatusCode)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return nil, goerrors.New(
			fmt.Sprintf("exchange: %s returned status %d", path, res.StatusCode),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadGateway).
			WithTextCode(core.BrokerErrorUpstreamTransient).
			WithMetadata(map[string]any{"path": path, "status_code": res.StatusCode})
	default:
		return nil, goerrors.New(
			fmt.Sprintf("exchange: %s returned status %d", path, res.StatusCode),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadRequest).
			WithTextCode(core.BrokerErrorUpstreamFailed).
			WithMetadata(map[string]any{"path": path, "status_code": res.StatusCode})
	}
}

func exchangeProtocolError(path string, detail string) error {
	return goerrors.New(
		fmt.Sprintf("exchange: %s returned an unexpected response: %s", path, detail),
		goerrors.CategoryExternal,
	).WithCode(http.StatusBadGateway).
		WithTextCode(core.BrokerErrorUpstreamFailed).
		WithMetadata(map[string]any{"path": path})
}

var _ core.CredentialExchanger = (*Exchanger)(nil)
