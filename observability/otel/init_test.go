package otel

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"omnipool/native/chains"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer t ,broken,,=skip,x-team=core")
	require.Equal(t, map[string]string{"authorization": "Bearer t", "x-team": "core"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "omnipoold"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Contains(t, Config{}.sampler().Description(), "AlwaysOnSampler")
	require.Contains(t, Config{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestDeploymentAttributesFromRegistry(t *testing.T) {
	reg, err := chains.New([]chains.ChainDescriptor{
		{ID: chains.Moonbeam, Name: "Moonbeam"},
		{ID: chains.Base, Name: "Base"},
	}, []chains.TokenDescriptor{
		{Symbol: "USDC", Decimals: 6, Addresses: map[chains.ChainID]common.Address{}},
	}, chains.Base)
	require.NoError(t, err)

	cfg := Config{ServiceName: "omnipoold", Version: "1.2.0", Environment: "staging"}.WithRegistry(reg)
	require.Equal(t, chains.Base, cfg.DefaultChain)
	require.Equal(t, []chains.ChainID{chains.Moonbeam, chains.Base}, cfg.Chains)

	set := attribute.NewSet(cfg.attributes()...)
	value, ok := set.Value(AttrDefaultChain)
	require.True(t, ok)
	require.Equal(t, int64(chains.Base), value.AsInt64())
	value, ok = set.Value(AttrChains)
	require.True(t, ok)
	require.Equal(t, []int64{int64(chains.Moonbeam), int64(chains.Base)}, value.AsInt64Slice())
	value, ok = set.Value("deployment.environment")
	require.True(t, ok)
	require.Equal(t, "staging", value.AsString())
	value, ok = set.Value("service.version")
	require.True(t, ok)
	require.Equal(t, "1.2.0", value.AsString())
}

func TestWithNilRegistryKeepsConfig(t *testing.T) {
	cfg := Config{ServiceName: "omnipoold"}
	require.Equal(t, cfg, cfg.WithRegistry(nil))
	require.Len(t, cfg.attributes(), 1)
}
