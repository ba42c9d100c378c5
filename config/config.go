// Package config loads the omnipoold daemon configuration from YAML and the
// process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"omnipool/native/chains"
	"omnipool/observability/logging"
	telemetry "omnipool/observability/otel"
)

// Environment variables consulted by Load.
const (
	EnvEnvironment   = "OMNIPOOL_ENV"
	EnvOTLPEndpoint  = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPHeaders   = "OTEL_EXPORTER_OTLP_HEADERS"
	EnvOTLPInsecure  = "OTEL_EXPORTER_OTLP_INSECURE"
	DefaultPassEnv   = "OMNIPOOL_KEYSTORE_PASSPHRASE"
	DefaultAuthEnv   = "OMNIPOOL_GATEWAY_JWT_SECRET"
	defaultListen    = ":8480"
	defaultDataDir   = "./data"
	defaultRateLimit = 20
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Config captures runtime configuration for omnipoold.
type Config struct {
	Environment   string                 `yaml:"env"`
	ListenAddress string                 `yaml:"listen"`
	DataDir       string                 `yaml:"data_dir"`
	HistoryPath   string                 `yaml:"history"`
	Registry      string                 `yaml:"registry"`
	Chains        map[uint64]ChainConfig `yaml:"chains"`
	Wallet        WalletConfig           `yaml:"wallet"`
	Guard         GuardConfig            `yaml:"guard"`
	TxFlow        TxFlowConfig           `yaml:"txflow"`
	Indexer       IndexerConfig          `yaml:"indexer"`
	Gateway       GatewayConfig          `yaml:"gateway"`
	Logging       LoggingConfig          `yaml:"logging"`
	Telemetry     TelemetryConfig        `yaml:"telemetry"`
}

// ChainConfig holds the per-network endpoints.
type ChainConfig struct {
	RPC     string `yaml:"rpc"`
	Indexer string `yaml:"indexer"`
}

// WalletConfig points at the encrypted key the daemon signs with.
type WalletConfig struct {
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env"`
	InitialChain  uint64 `yaml:"initial_chain"`
	AutoConnect   bool   `yaml:"auto_connect"`
}

// GuardConfig tunes the readiness gate.
type GuardConfig struct {
	Debounce Duration `yaml:"debounce"`
}

// TxFlowConfig tunes submission and confirmation.
type TxFlowConfig struct {
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	Confirmations  uint64   `yaml:"confirmations"`
	GasHeadroomPct uint64   `yaml:"gas_headroom_pct"`
	SimulatedRelay bool     `yaml:"simulated_relay"`
	RelayDelay     Duration `yaml:"relay_delay"`
}

// IndexerConfig tunes the indexer client.
type IndexerConfig struct {
	Timeout          Duration `yaml:"timeout"`
	PageSize         int      `yaml:"page_size"`
	EstimateAPY      bool     `yaml:"estimate_apy"`
	ReserveFactorBps uint64   `yaml:"reserve_factor_bps"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	RateLimit       float64    `yaml:"rate_limit"`
	Burst           int        `yaml:"burst"`
	ReadTimeout     Duration   `yaml:"read_timeout"`
	// WriteTimeout bounds each websocket stream message.
	WriteTimeout    Duration   `yaml:"write_timeout"`
	ShutdownTimeout Duration   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string   `yaml:"allowed_origins"`
	Auth            AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer token checks on state-changing routes. The HMAC
// secret is read from SecretEnv so it never sits in the config file.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`

	secret string
}

// Secret returns the HMAC secret resolved while loading.
func (a AuthConfig) Secret() string { return a.secret }

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Traces      bool              `yaml:"traces"`
	Metrics     bool              `yaml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio"`

	// ExportInterval is the metric push period (default 15s).
	ExportInterval Duration `yaml:"export_interval"`
}

// Load reads configuration from path and applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	return parse(raw, lookup)
}

func parse(raw []byte, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvEnvironment); ok && strings.TrimSpace(value) != "" {
		cfg.Environment = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvOTLPEndpoint); ok && strings.TrimSpace(value) != "" {
		cfg.Telemetry.Endpoint = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvOTLPHeaders); ok {
		headers := telemetry.ParseHeaders(value)
		if len(headers) > 0 {
			cfg.Telemetry.Headers = headers
		}
	}
	if value, ok := lookup(EnvOTLPInsecure); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOTLPInsecure, err)
		}
		cfg.Telemetry.Insecure = parsed
	}
	if cfg.Gateway.Auth.Enabled {
		if cfg.Gateway.Auth.SecretEnv == "" {
			cfg.Gateway.Auth.SecretEnv = DefaultAuthEnv
		}
		if value, ok := lookup(cfg.Gateway.Auth.SecretEnv); ok {
			cfg.Gateway.Auth.secret = strings.TrimSpace(value)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Wallet.PassphraseEnv == "" {
		cfg.Wallet.PassphraseEnv = DefaultPassEnv
	}
	if cfg.Guard.Debounce.Duration == 0 {
		cfg.Guard.Debounce.Duration = 100 * time.Millisecond
	}
	if cfg.TxFlow.ConfirmTimeout.Duration == 0 {
		cfg.TxFlow.ConfirmTimeout.Duration = 10 * time.Minute
	}
	if cfg.TxFlow.PollInterval.Duration == 0 {
		cfg.TxFlow.PollInterval.Duration = 2 * time.Second
	}
	if cfg.TxFlow.Confirmations == 0 {
		cfg.TxFlow.Confirmations = 1
	}
	if cfg.TxFlow.GasHeadroomPct == 0 {
		cfg.TxFlow.GasHeadroomPct = 20
	}
	if cfg.TxFlow.RelayDelay.Duration == 0 {
		cfg.TxFlow.RelayDelay.Duration = 2 * time.Second
	}
	if cfg.Indexer.Timeout.Duration == 0 {
		cfg.Indexer.Timeout.Duration = 10 * time.Second
	}
	if cfg.Indexer.PageSize <= 0 {
		cfg.Indexer.PageSize = 100
	}
	if cfg.Indexer.ReserveFactorBps == 0 {
		cfg.Indexer.ReserveFactorBps = 1000
	}
	if cfg.Gateway.RateLimit == 0 {
		cfg.Gateway.RateLimit = defaultRateLimit
	}
	if cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = int(cfg.Gateway.RateLimit) * 2
	}
	if cfg.Gateway.ReadTimeout.Duration == 0 {
		cfg.Gateway.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.Gateway.WriteTimeout.Duration == 0 {
		cfg.Gateway.WriteTimeout.Duration = 10 * time.Second
	}
	if cfg.Gateway.ShutdownTimeout.Duration == 0 {
		cfg.Gateway.ShutdownTimeout.Duration = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

// RPCEndpoints returns the configured JSON-RPC endpoint per chain.
func (c Config) RPCEndpoints() map[chains.ChainID]string {
	out := make(map[chains.ChainID]string, len(c.Chains))
	for id, chain := range c.Chains {
		if url := strings.TrimSpace(chain.RPC); url != "" {
			out[chains.ChainID(id)] = url
		}
	}
	return out
}

// IndexerEndpoints returns the configured indexer endpoint per chain.
func (c Config) IndexerEndpoints() map[chains.ChainID]string {
	out := make(map[chains.ChainID]string, len(c.Chains))
	for id, chain := range c.Chains {
		if url := strings.TrimSpace(chain.Indexer); url != "" {
			out[chains.ChainID(id)] = url
		}
	}
	return out
}

// OTel returns the exporter configuration for service, describing the
// networks in registry.
func (c Config) OTel(service string, registry *chains.Registry) telemetry.Config {
	return telemetry.Config{
		ServiceName:    service,
		Environment:    c.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		Headers:        c.Telemetry.Headers,
		Metrics:        c.Telemetry.Metrics,
		Traces:         c.Telemetry.Traces,
		SampleRatio:    c.Telemetry.SampleRatio,
		ExportInterval: c.Telemetry.ExportInterval.Duration,
	}.WithRegistry(registry)
}

// Sanitized returns a copy safe to log: exporter headers are masked.
func (c Config) Sanitized() Config {
	out := c
	if len(c.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for key, value := range c.Telemetry.Headers {
			out.Telemetry.Headers[key] = logging.MaskValue(value)
		}
	}
	out.Chains = make(map[uint64]ChainConfig, len(c.Chains))
	for id, chain := range c.Chains {
		out.Chains[id] = ChainConfig{RPC: maskEndpoint(chain.RPC), Indexer: maskEndpoint(chain.Indexer)}
	}
	return out
}

// maskEndpoint hides URL credentials and everything after the host, where
// hosted RPC providers put API keys.
func maskEndpoint(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = logging.RedactedValue + rest[at:]
	}
	host, path, hasPath := strings.Cut(rest, "/")
	if hasPath && path != "" {
		return scheme + "://" + host + "/" + logging.MaskValue(path)
	}
	return scheme + "://" + rest
}
