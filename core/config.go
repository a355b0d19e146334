package core

import (
	"fmt"
	"strings"
	"time"
)

type ResolverConfig struct {
	Attempts        int `koanf:"attempts" mapstructure:"attempts"`
	BackoffSeconds  int `koanf:"backoff_seconds" mapstructure:"backoff_seconds"`
}

func (c ResolverConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

type CacheConfig struct {
	IntrospectionTTLSeconds int `koanf:"introspection_ttl_seconds" mapstructure:"introspection_ttl_seconds"`
	DisplayNameTTLSeconds   int `koanf:"display_name_ttl_seconds" mapstructure:"display_name_ttl_seconds"`
}

func (c CacheConfig) IntrospectionTTL() time.Duration {
	return time.Duration(c.IntrospectionTTLSeconds) * time.Second
}

func (c CacheConfig) DisplayNameTTL() time.Duration {
	return time.Duration(c.DisplayNameTTLSeconds) * time.Second
}

type Config struct {
	ServiceName      string         `koanf:"service_name" mapstructure:"service_name"`
	ProductName      string         `koanf:"product_name" mapstructure:"product_name"`
	DashboardBaseURL string         `koanf:"dashboard_base_url" mapstructure:"dashboard_base_url"`
	Resolver         ResolverConfig `koanf:"resolver" mapstructure:"resolver"`
	Cache            CacheConfig    `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "channel-broker",
		ProductName:      "DevOps Toolchain",
		DashboardBaseURL: "",
		Resolver: ResolverConfig{
			Attempts:       defaultResolverAttempts,
			BackoffSeconds: int(defaultResolverBackoff / time.Second),
		},
		Cache: CacheConfig{
			IntrospectionTTLSeconds: int(defaultIntrospectionTTL / time.Second),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Resolver.Attempts < 1 {
		return fmt.Errorf("core: resolver.attempts must be at least 1")
	}
	if c.Resolver.BackoffSeconds < 0 {
		return fmt.Errorf("core: resolver.backoff_seconds must not be negative")
	}
	return nil
}

// DashboardURL derives the dashboard link stored on an instance document.
func (c Config) DashboardURL(instanceID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.DashboardBaseURL), "/")
	instanceID = strings.TrimSpace(instanceID)
	if base == "" || instanceID == "" {
		return ""
	}
	return base + "/" + instanceID
}
