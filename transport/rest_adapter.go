package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-channel-broker/core"
	goerrors "github.com/goliatone/go-errors"
)

const KindREST = "rest"

// The provider clients exchange small JSON documents with channel and
// token services, so the fallback limits stay tight.
const (
	defaultClientTimeout         = 15 * time.Second
	defaultResponseBodyCap int64 = 4 << 20 // 4 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter executes HTTP-shaped transport requests. Request timeouts
// and response body caps come from the TransportRequest; the adapter
// fields only supply fallbacks.
type RESTAdapter struct {
	Client          HTTPDoer
	ResponseBodyCap int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:          client,
		ResponseBodyCap: defaultResponseBodyCap,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: rest adapter has no http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"kind": KindREST},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"kind": KindREST, "method": httpReq.Method, "url": httpReq.URL.String()},
		)
	}
	defer httpRes.Body.Close()

	bodyCap := a.bodyCap(req.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, bodyCap+1))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"kind": KindREST, "status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > bodyCap {
		return core.TransportResponse{}, transportError(
			fmt.Sprintf("transport: response body exceeds cap of %d bytes", bodyCap),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"kind":        KindREST,
				"status_code": httpRes.StatusCode,
				"body_cap_b":  bodyCap,
			},
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    joinHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"kind":        KindREST,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

func buildRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	target := strings.TrimSpace(req.URL)
	if target == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"kind": KindREST},
		)
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"kind": KindREST, "url": target},
		)
	}
	if len(req.Query) > 0 {
		values := parsed.Query()
		for key, value := range req.Query {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			values.Set(key, value)
		}
		parsed.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, parsed.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: build http request",
			http.StatusBadRequest,
			map[string]any{"kind": KindREST, "method": method, "url": parsed.String()},
		)
	}
	for key, value := range req.Headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func (a *RESTAdapter) bodyCap(requestCap int64) int64 {
	if requestCap > 0 {
		return requestCap
	}
	if a.ResponseBodyCap > 0 {
		return a.ResponseBodyCap
	}
	return defaultResponseBodyCap
}

func joinHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
