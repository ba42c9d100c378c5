package wallettest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"omnipool/native/chains"
	"omnipool/services/wallet"
)

var _ wallet.Provider = (*Fake)(nil)

func TestFakeProviderHooks(t *testing.T) {
	fake := NewFake(wallet.State{ChainID: chains.Base})
	fake.ConnectFunc = func(context.Context) error { return &wallet.RejectedError{Op: "connect"} }
	_, err := fake.Connect(context.Background())
	require.Error(t, err)
	require.False(t, fake.State().Connected)

	fake.ConnectFunc = nil
	state, err := fake.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, fake.DefaultAddress, state.Address)
	require.NoError(t, fake.SwitchChain(context.Background(), chains.Moonbeam))
	require.Equal(t, chains.Moonbeam, fake.State().ChainID)
}

func TestFakeBalanceRequiresConnection(t *testing.T) {
	fake := NewFake(wallet.State{ChainID: chains.Moonbeam})
	_, err := fake.Balance(context.Background(), nil)
	require.ErrorIs(t, err, wallet.ErrNotConnected)

	updates, cancel := fake.Subscribe()
	defer cancel()
	_, err = fake.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, (<-updates).Connected)
}
