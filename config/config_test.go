package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omnipool/native/chains"
	"omnipool/observability/logging"
)

const minimal = `
chains:
  1284:
    rpc: https://rpc.api.moonbeam.network
    indexer: https://indexer.example/moonbeam
  8453:
    rpc: https://base.example/v2/secret-key
wallet:
  keystore: ./keys/operator.json
`

func noEnv(string) (string, bool) { return "", false }

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte(minimal), noEnv)
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, ":8480", cfg.ListenAddress)
	require.Equal(t, DefaultPassEnv, cfg.Wallet.PassphraseEnv)
	require.Equal(t, 100*time.Millisecond, cfg.Guard.Debounce.Duration)
	require.Equal(t, 10*time.Minute, cfg.TxFlow.ConfirmTimeout.Duration)
	require.Equal(t, 2*time.Second, cfg.TxFlow.RelayDelay.Duration)
	require.EqualValues(t, 1, cfg.TxFlow.Confirmations)
	require.EqualValues(t, 20, cfg.Gateway.RateLimit)
	require.Equal(t, 40, cfg.Gateway.Burst)
	require.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
	require.False(t, cfg.TxFlow.SimulatedRelay)

	require.Equal(t, map[chains.ChainID]string{
		chains.Moonbeam: "https://rpc.api.moonbeam.network",
		chains.Base:     "https://base.example/v2/secret-key",
	}, cfg.RPCEndpoints())
	require.Equal(t, map[chains.ChainID]string{
		chains.Moonbeam: "https://indexer.example/moonbeam",
	}, cfg.IndexerEndpoints())
}

func TestParseOverrides(t *testing.T) {
	raw := minimal + `
listen: 127.0.0.1:9000
guard:
  debounce: 250ms
txflow:
  confirm_timeout: 2m
  poll_interval: 500ms
  simulated_relay: true
logging:
  level: debug
  file: /var/log/omnipoold.log
`
	cfg, err := parse([]byte(raw), noEnv)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 250*time.Millisecond, cfg.Guard.Debounce.Duration)
	require.Equal(t, 2*time.Minute, cfg.TxFlow.ConfirmTimeout.Duration)
	require.True(t, cfg.TxFlow.SimulatedRelay)
	require.Equal(t, "DEBUG", cfg.LogLevel().String())
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := parse([]byte(minimal), envMap(map[string]string{
		EnvEnvironment:  "prod",
		EnvOTLPEndpoint: "collector:4318",
		EnvOTLPHeaders:  "authorization=Bearer abc, x-team = core",
		EnvOTLPInsecure: "false",
	}))
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, map[string]string{"authorization": "Bearer abc", "x-team": "core"}, cfg.Telemetry.Headers)
	require.False(t, cfg.Telemetry.Insecure)

	otelCfg := cfg.OTel("omnipoold", chains.Default())
	require.Equal(t, "omnipoold", otelCfg.ServiceName)
	require.Equal(t, "prod", otelCfg.Environment)
	require.Equal(t, chains.Moonbeam, otelCfg.DefaultChain)
	require.Contains(t, otelCfg.Chains, chains.Base)

	_, err = parse([]byte(minimal), envMap(map[string]string{EnvOTLPInsecure: "maybe"}))
	require.Error(t, err)
}

func TestGatewayAuthSecretFromEnvironment(t *testing.T) {
	raw := minimal + "gateway:\n  auth:\n    enabled: true\n    issuer: omnipool-ops\n"

	_, err := parse([]byte(raw), noEnv)
	require.ErrorContains(t, err, DefaultAuthEnv)

	cfg, err := parse([]byte(raw), envMap(map[string]string{DefaultAuthEnv: " s3cret "}))
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Gateway.Auth.Secret())
	require.Equal(t, "omnipool-ops", cfg.Gateway.Auth.Issuer)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "no chains", raw: "wallet:\n  keystore: k.json\n", want: "at least one chain"},
		{name: "missing rpc", raw: "chains:\n  1284:\n    indexer: x\nwallet:\n  keystore: k.json\n", want: "chains.1284.rpc"},
		{name: "missing keystore", raw: "chains:\n  1284:\n    rpc: http://x\n", want: "wallet.keystore"},
		{name: "unknown initial chain", raw: minimal + "  initial_chain: 10\n", want: "initial_chain"},
		{name: "bad level", raw: minimal + "logging:\n  level: loud\n", want: "logging.level"},
		{name: "bad ratio", raw: minimal + "telemetry:\n  sample_ratio: 2\n", want: "sample_ratio"},
		{name: "poll exceeds timeout", raw: minimal + "txflow:\n  confirm_timeout: 1s\n  poll_interval: 2s\n", want: "poll_interval"},
		{name: "unknown field", raw: minimal + "surprise: true\n", want: "surprise"},
		{name: "bad duration", raw: minimal + "guard:\n  debounce: soon\n", want: "parse duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse([]byte(tc.raw), noEnv)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnipoold.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSanitized(t *testing.T) {
	cfg, err := parse([]byte(minimal), envMap(map[string]string{EnvOTLPHeaders: "authorization=Bearer abc"}))
	require.NoError(t, err)

	clean := cfg.Sanitized()
	require.Equal(t, logging.RedactedValue, clean.Telemetry.Headers["authorization"])
	require.Equal(t, "Bearer abc", cfg.Telemetry.Headers["authorization"], "original untouched")
	require.Equal(t, "https://base.example/"+logging.RedactedValue, clean.Chains[8453].RPC)
	require.Equal(t, "https://rpc.api.moonbeam.network", clean.Chains[1284].RPC)
}
