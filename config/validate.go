package config

import (
	"fmt"
	"log/slog"
	"strings"
)

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address must be configured")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for id, chain := range cfg.Chains {
		if id == 0 {
			return fmt.Errorf("chains: id 0 is not a valid chain id")
		}
		if strings.TrimSpace(chain.RPC) == "" {
			return fmt.Errorf("chains.%d.rpc must be configured", id)
		}
	}
	if strings.TrimSpace(cfg.Wallet.Keystore) == "" {
		return fmt.Errorf("wallet.keystore must be configured")
	}
	if cfg.Wallet.InitialChain != 0 {
		if _, ok := cfg.Chains[cfg.Wallet.InitialChain]; !ok {
			return fmt.Errorf("wallet.initial_chain %d has no chains entry", cfg.Wallet.InitialChain)
		}
	}
	if cfg.Guard.Debounce.Duration < 0 {
		return fmt.Errorf("guard.debounce must not be negative")
	}
	if cfg.TxFlow.ConfirmTimeout.Duration < 0 || cfg.TxFlow.PollInterval.Duration < 0 {
		return fmt.Errorf("txflow durations must not be negative")
	}
	if cfg.TxFlow.PollInterval.Duration >= cfg.TxFlow.ConfirmTimeout.Duration {
		return fmt.Errorf("txflow.poll_interval must be shorter than txflow.confirm_timeout")
	}
	if cfg.Indexer.ReserveFactorBps > 10_000 {
		return fmt.Errorf("indexer.reserve_factor_bps must not exceed 10000")
	}
	if cfg.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}
	if cfg.Gateway.Auth.Enabled && cfg.Gateway.Auth.Secret() == "" {
		return fmt.Errorf("gateway.auth is enabled but %s is empty", cfg.Gateway.Auth.SecretEnv)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging rotation limits must not be negative")
	}
	return nil
}

// LogLevel returns the parsed logging level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
