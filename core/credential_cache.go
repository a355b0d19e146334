package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultIntrospectionTTL = time.Hour

// CredentialCache layers a keyed cache over a CredentialExchanger so
// retried operations do not pay the exchange service's cost twice.
// Exchanged credentials are kept until explicitly refreshed; introspection
// results expire after a fixed TTL regardless of the refresh flag used on
// other entries. An authorization-rejected exchange never populates the
// cache; retrying once with Refresh=true is the caller's contract.
type CredentialCache struct {
	exchanger  CredentialExchanger
	exchanged  *expirable.LRU[string, Credentials]
	introspect *expirable.LRU[string, UserData]
}

func NewCredentialCache(exchanger CredentialExchanger, introspectionTTL time.Duration) (*CredentialCache, error) {
	if exchanger == nil {
		return nil, fmt.Errorf("core: credential exchanger is required")
	}
	if introspectionTTL <= 0 {
		introspectionTTL = defaultIntrospectionTTL
	}
	return &CredentialCache{
		exchanger:  exchanger,
		exchanged:  expirable.NewLRU[string, Credentials](0, nil, 0),
		introspect: expirable.NewLRU[string, UserData](0, nil, introspectionTTL),
	}, nil
}

func (c *CredentialCache) GetCredentials(
	ctx context.Context,
	authHeader string,
	opts ExchangeOptions,
) (Credentials, error) {
	if c == nil || c.exchanger == nil {
		return Credentials{}, fmt.Errorf("core: credential cache is not configured")
	}
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return Credentials{}, fmt.Errorf("core: authorization header is required")
	}

	key := cacheKey("exchange", authHeader, opts.Target, opts.Toolchain)
	if !opts.Refresh {
		if cached, ok := c.exchanged.Get(key); ok {
			return cached, nil
		}
	}

	creds, err := c.exchanger.Exchange(ctx, authHeader, opts)
	if err != nil {
		return Credentials{}, err
	}
	c.exchanged.Add(key, creds)
	return creds, nil
}

func (c *CredentialCache) Introspect(
	ctx context.Context,
	authHeader string,
	creds Credentials,
	opts IntrospectOptions,
) (UserData, error) {
	if c == nil || c.exchanger == nil {
		return UserData{}, fmt.Errorf("core: credential cache is not configured")
	}
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return UserData{}, fmt.Errorf("core: authorization header is required")
	}

	key := cacheKey("introspect", authHeader, creds.AccessToken, "")
	if !opts.Refresh {
		if cached, ok := c.introspect.Get(key); ok {
			return cached, nil
		}
	}

	data, err := c.exchanger.Introspect(ctx, authHeader, creds)
	if err != nil {
		return UserData{}, err
	}
	c.introspect.Add(key, data)
	return data, nil
}

func cacheKey(operation string, parts ...string) string {
	return operation + "\x00" + strings.Join(parts, "\x00")
}

// DisplayNameCache is the explicit cache object for toolchain display-name
// lookups, replacing the source system's hidden process-wide map. Entries
// share the construction and TTL semantics of the credential cache.
type DisplayNameCache struct {
	directory ToolchainDirectory
	names     *expirable.LRU[string, string]
}

func NewDisplayNameCache(directory ToolchainDirectory, ttl time.Duration) (*DisplayNameCache, error) {
	if directory == nil {
		return nil, fmt.Errorf("core: toolchain directory is required")
	}
	return &DisplayNameCache{
		directory: directory,
		names:     expirable.NewLRU[string, string](0, nil, ttl),
	}, nil
}

func (c *DisplayNameCache) DisplayName(ctx context.Context, toolchainID string, credentials string) (string, error) {
	if c == nil || c.directory == nil {
		return "", fmt.Errorf("core: display name cache is not configured")
	}
	toolchainID = strings.TrimSpace(toolchainID)
	if toolchainID == "" {
		return "", fmt.Errorf("core: toolchain id is required")
	}

	key := cacheKey("display_name", toolchainID)
	if cached, ok := c.names.Get(key); ok {
		return cached, nil
	}
	name, err := c.directory.DisplayName(ctx, toolchainID, credentials)
	if err != nil {
		return "", err
	}
	c.names.Add(key, name)
	return name, nil
}

var _ ToolchainDirectory = (*DisplayNameCache)(nil)
