// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads Gatehouse configuration: defaults, then an
// optional YAML file, then command-line flags. Secrets never live in
// the file; they are read from the environment exactly once at startup
// and passed down explicitly.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values. Issuer and audience must match between the party that
// signs tokens and the party that verifies them.
const (
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultTokenIssuer     = "gatehouse"
	DefaultTokenAudience   = "gatehouse-users"
	DefaultTokenTTL        = "24h"
	DefaultBcryptCost      = 10
	DefaultHashConcurrency = 0 // 0 = one slot per CPU
)

// Config holds non-secret runtime configuration. Keys follow the flag
// names so a YAML file and the command line describe the same thing.
type Config struct {
	HTTPAddr        string `koanf:"http-addr" json:"http-addr,omitempty" jsonschema:"title=API listen address,default=127.0.0.1:8080"`
	MetricsAddr     string `koanf:"metrics-addr" json:"metrics-addr,omitempty" jsonschema:"title=Metrics/health listen address (empty disables)"`
	LogFormat       string `koanf:"log-format" json:"log-format,omitempty" jsonschema:"enum=json,enum=text,default=json"`
	BcryptCost      int    `koanf:"bcrypt-cost" json:"bcrypt-cost,omitempty" jsonschema:"minimum=4,maximum=31,default=10"`
	HashConcurrency int    `koanf:"hash-concurrency" json:"hash-concurrency,omitempty" jsonschema:"minimum=0"`
	TokenIssuer     string `koanf:"token-issuer" json:"token-issuer,omitempty" jsonschema:"default=gatehouse"`
	TokenAudience   string `koanf:"token-audience" json:"token-audience,omitempty" jsonschema:"default=gatehouse-users"`
	TokenTTL        string `koanf:"token-ttl" json:"token-ttl,omitempty" jsonschema:"title=Token lifetime as a Go duration,default=24h"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		HTTPAddr:        DefaultHTTPAddr,
		MetricsAddr:     DefaultMetricsAddr,
		LogFormat:       DefaultLogFormat,
		BcryptCost:      DefaultBcryptCost,
		HashConcurrency: DefaultHashConcurrency,
		TokenIssuer:     DefaultTokenIssuer,
		TokenAudience:   DefaultTokenAudience,
		TokenTTL:        DefaultTokenTTL,
	}
}

// Load builds configuration in precedence order: defaults, YAML file
// (if path is non-empty), then any flags the user actually set. The
// file is validated against the config JSON schema before merging.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		provider := kfile.Provider(path)
		data, err := provider.ReadBytes()
		if err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(data); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(provider, kyaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values and cross-field consistency.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http-addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return oops.Code("CONFIG_INVALID").With("bcrypt-cost", c.BcryptCost).Errorf("bcrypt-cost must be between 4 and 31")
	}
	if c.HashConcurrency < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("hash-concurrency cannot be negative")
	}
	if c.TokenIssuer == "" {
		return oops.Code("CONFIG_INVALID").Errorf("token-issuer is required")
	}
	if c.TokenAudience == "" {
		return oops.Code("CONFIG_INVALID").Errorf("token-audience is required")
	}
	if _, err := c.ParsedTokenTTL(); err != nil {
		return err
	}
	return nil
}

// ParsedTokenTTL returns the token lifetime as a duration.
func (c Config) ParsedTokenTTL() (time.Duration, error) {
	ttl, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return 0, oops.Code("CONFIG_INVALID").With("token-ttl", c.TokenTTL).Errorf("token-ttl is not a valid duration")
	}
	if ttl <= 0 {
		return 0, oops.Code("CONFIG_INVALID").With("token-ttl", c.TokenTTL).Errorf("token-ttl must be positive")
	}
	return ttl, nil
}

// Secrets holds values that are only ever read from the environment.
// They are never logged, echoed, or written back out.
type Secrets struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// TokenSecret is the symmetric token signing key for this
	// deployment.
	TokenSecret string `env:"GATEHOUSE_TOKEN_SECRET,notEmpty"`
}

// LoadSecrets reads secrets from the environment once at startup.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, oops.Code("CONFIG_SECRETS_MISSING").Wrap(err)
	}
	return s, nil
}
