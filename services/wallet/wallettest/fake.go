// Package wallettest provides an in-memory wallet.Provider for tests.
package wallettest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/internal/fanout"
	"omnipool/native/chains"
	"omnipool/services/wallet"
)

// Fake is an in-memory wallet.Provider. Hooks
// decide whether requests succeed; Emit injects external wallet events.
type Fake struct {
	ConnectFunc func(ctx context.Context) error
	SwitchFunc  func(ctx context.Context, id chains.ChainID) error
	BalanceFunc func(ctx context.Context, token *common.Address) (*big.Int, error)

	// DefaultAddress is reported once connected when the state carries none.
	DefaultAddress common.Address

	mu    sync.Mutex
	state wallet.State
	hub   fanout.Hub[wallet.State]
}

// NewFake returns a fake provider in the supplied initial state.
func NewFake(initial wallet.State) *Fake {
	return &Fake{
		state:          initial,
		DefaultAddress: common.HexToAddress("0x00000000000000000000000000000000000A11CE"),
	}
}

// Emit replaces the state and notifies subscribers.
func (f *Fake) Emit(state wallet.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.hub.Publish(state)
}

func (f *Fake) Connect(ctx context.Context) (wallet.State, error) {
	if f.ConnectFunc != nil {
		if err := f.ConnectFunc(ctx); err != nil {
			return f.State(), err
		}
	}
	f.mu.Lock()
	f.state.Connected = true
	if f.state.Address == (common.Address{}) {
		f.state.Address = f.DefaultAddress
	}
	state := f.state
	f.mu.Unlock()
	f.hub.Publish(state)
	return state, nil
}

func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	f.state.Connected = false
	f.state.Address = common.Address{}
	state := f.state
	f.mu.Unlock()
	f.hub.Publish(state)
	return nil
}

func (f *Fake) SwitchChain(ctx context.Context, id chains.ChainID) error {
	if f.SwitchFunc != nil {
		if err := f.SwitchFunc(ctx, id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.state.ChainID = id
	state := f.state
	f.mu.Unlock()
	f.hub.Publish(state)
	return nil
}

func (f *Fake) State() wallet.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) Subscribe() (<-chan wallet.State, func()) {
	return f.hub.Subscribe()
}

func (f *Fake) Balance(ctx context.Context, token *common.Address) (*big.Int, error) {
	if f.BalanceFunc != nil {
		return f.BalanceFunc(ctx, token)
	}
	if !f.State().Connected {
		return nil, wallet.ErrNotConnected
	}
	return new(big.Int), nil
}
