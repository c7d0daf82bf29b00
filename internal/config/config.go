// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package config loads and validates the harness configuration: providers,
// their models and weights, thresholds, and the rotation strategy. The core
// treats the result as read-only; Reload builds a fresh copy on demand.
package config

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rotor-dev/rotor/internal/rotation"
	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

// ProviderType affects cost accounting and auth strategy.
type ProviderType string

const (
	ProviderTypeSubscription ProviderType = "subscription"
	ProviderTypeUsageBased   ProviderType = "usage_based"
	ProviderTypePassthrough  ProviderType = "passthrough"
)

// FlatRate reports whether the provider bills a flat subscription rather
// than per token. An unset type defaults to subscription.
func (t ProviderType) FlatRate() bool {
	return t == ProviderTypeSubscription || t == ""
}

// Config is the top-level harness configuration.
type Config struct {
	Project   string                    `mapstructure:"project"`
	Mode      string                    `mapstructure:"mode"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	// Fallback is the ordered provider chain tried when the preferred one
	// is unavailable.
	Fallback  []string        `mapstructure:"fallback"`
	Rotation  RotationConfig  `mapstructure:"rotation"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	History   HistoryConfig   `mapstructure:"history"`
	State     StateConfig     `mapstructure:"state"`
}

// ProviderConfig describes one external AI backend. Immutable once loaded.
type ProviderConfig struct {
	Priority int           `mapstructure:"priority"`
	Weight   int           `mapstructure:"weight"`
	Type     ProviderType  `mapstructure:"type"`
	Models   []ModelConfig `mapstructure:"models"`
}

// ModelConfig describes one selectable model of a provider.
type ModelConfig struct {
	Name      string        `mapstructure:"name"`
	Weight    int           `mapstructure:"weight"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
	// CostPerToken is a decimal string (e.g. "0.000003") so cost ranking
	// avoids float drift.
	CostPerToken string `mapstructure:"cost_per_token"`
}

// Cost parses CostPerToken, zero when unset.
func (m ModelConfig) Cost() (decimal.Decimal, error) {
	if m.CostPerToken == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(m.CostPerToken)
}

// RotationConfig selects the rotation strategy.
type RotationConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// RateLimitConfig tunes rate-limit handling.
type RateLimitConfig struct {
	// DefaultResetWindow applies when a provider signals a rate limit
	// without a reset hint.
	DefaultResetWindow time.Duration `mapstructure:"default_reset_window"`
}

// QuotaConfig tunes quota tracking.
type QuotaConfig struct {
	DefaultLimit int64 `mapstructure:"default_limit"`
}

// HistoryConfig bounds the rotation history ring.
type HistoryConfig struct {
	Cap int `mapstructure:"cap"`
}

// StateConfig selects the persistence backend.
type StateConfig struct {
	Backend     string        `mapstructure:"backend"`
	Path        string        `mapstructure:"path"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// Load reads configuration from path (optional) with environment overrides
// (prefix ROTOR_).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("project", "default")
	v.SetDefault("mode", "default")
	v.SetDefault("rotation.strategy", string(rotation.DefaultStrategy))
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.cooldown", "300s")
	v.SetDefault("rate_limit.default_reset_window", "1800s")
	v.SetDefault("quota.default_limit", 1000)
	v.SetDefault("history.cap", 1000)
	v.SetDefault("state.backend", "file")
	v.SetDefault("state.lock_timeout", "5s")

	v.SetEnvPrefix("ROTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, rotorerr.Wrapf(err, rotorerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, rotorerr.Wrap(err, rotorerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, rotorerr.Wrap(errors.Join(errs...), rotorerr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateFallback()...)
	errs = append(errs, c.validateRotation()...)
	errs = append(errs, c.validateThresholds()...)

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	validTypes := map[ProviderType]bool{
		ProviderTypeSubscription: true,
		ProviderTypeUsageBased:   true,
		ProviderTypePassthrough:  true,
		"":                       true, // defaults to subscription
	}

	for name, p := range c.Providers {
		if p.Priority < 0 {
			errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
				"config: provider %q priority must be non-negative, got %d", name, p.Priority))
		}
		if p.Weight < 0 {
			errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
				"config: provider %q weight must be non-negative, got %d", name, p.Weight))
		}
		if !validTypes[p.Type] {
			errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
				"config: provider %q type must be one of [subscription, usage_based, passthrough], got %q", name, p.Type))
		}
		if len(p.Models) == 0 {
			errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
				"config: provider %q declares no models", name))
		}
		for i, m := range p.Models {
			if m.Name == "" {
				errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
					"config: provider %q model %d has no name", name, i))
			}
			if m.Weight < 0 {
				errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
					"config: provider %q model %q weight must be non-negative, got %d", name, m.Name, m.Weight))
			}
			if _, err := m.Cost(); err != nil {
				errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
					"config: provider %q model %q cost_per_token %q is not a decimal", name, m.Name, m.CostPerToken))
			}
		}
	}

	return errs
}

func (c *Config) validateFallback() []error {
	var errs []error

	for _, name := range c.Fallback {
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigProviderNotFound,
				"config: fallback chain references provider %q which is not configured", name))
		}
	}

	return errs
}

func (c *Config) validateRotation() []error {
	if c.Rotation.Strategy == "" {
		return nil
	}
	if !rotation.Strategy(c.Rotation.Strategy).Valid() {
		return []error{rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: rotation.strategy must be one of [provider_first, model_first, cost_optimized, performance_optimized, quota_aware], got %q",
			c.Rotation.Strategy)}
	}
	return nil
}

func (c *Config) validateThresholds() []error {
	var errs []error

	if c.Breaker.FailureThreshold < 0 {
		errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: circuit_breaker.failure_threshold must be non-negative, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.Cooldown < 0 {
		errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: circuit_breaker.cooldown must be non-negative, got %s", c.Breaker.Cooldown))
	}
	if c.RateLimit.DefaultResetWindow < 0 {
		errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: rate_limit.default_reset_window must be non-negative, got %s", c.RateLimit.DefaultResetWindow))
	}
	if c.Quota.DefaultLimit < 0 {
		errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: quota.default_limit must be non-negative, got %d", c.Quota.DefaultLimit))
	}
	if c.History.Cap < 0 {
		errs = append(errs, rotorerr.Errorf(rotorerr.CodeConfigValidateInvalidValue,
			"config: history.cap must be non-negative, got %d", c.History.Cap))
	}

	return errs
}

// FallbackOrDefault returns the fallback chain, deriving one from provider
// priorities when none is configured.
func (c *Config) FallbackOrDefault() []string {
	if len(c.Fallback) > 0 {
		return c.Fallback
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	// Priority ascending, name ascending for determinism.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0; j-- {
			a, b := c.Providers[names[j-1]], c.Providers[names[j]]
			if b.Priority < a.Priority || (b.Priority == a.Priority && names[j] < names[j-1]) {
				names[j-1], names[j] = names[j], names[j-1]
			}
		}
	}
	return names
}

// DefaultModel returns the first configured model of a provider.
func (c *Config) DefaultModel(provider string) string {
	p, ok := c.Providers[provider]
	if !ok || len(p.Models) == 0 {
		return ""
	}
	return p.Models[0].Name
}

// Loader re-reads one configuration path on demand, keeping the latest
// valid copy.
type Loader struct {
	mu   sync.RWMutex
	path string
	cur  *Config
}

// NewLoader loads path once and remembers it for Reload.
func NewLoader(path string) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path, cur: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Reload re-reads the path. On failure the previous configuration stays
// current and the error is returned.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cur = cfg
	l.mu.Unlock()
	return cfg, nil
}
