package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"omnipool/internal/fanout"
	"omnipool/native/chains"
)

// Backend is the subset of ethclient.Client the local provider needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialFunc returns a backend connected to the given chain.
type DialFunc func(ctx context.Context, id chains.ChainID) (Backend, error)

// ApproveFunc is consulted before every signature. Returning an error rejects
// the request as if the account holder declined it.
type ApproveFunc func(ctx context.Context, chainID *big.Int, tx *types.Transaction) error

// Local is a Provider backed by an encrypted JSON keystore. The key is only
// decrypted on Connect and dropped again on Disconnect.
type Local struct {
	registry   *chains.Registry
	keyJSON    []byte
	passphrase func() (string, error)
	dial       DialFunc
	approve    ApproveFunc
	logger     *slog.Logger

	mu    sync.RWMutex
	key   *ecdsa.PrivateKey
	state State

	hub fanout.Hub[State]
}

// LocalOption customises a Local provider.
type LocalOption func(*Local)

// WithInitialChain sets the chain reported before the first switch.
func WithInitialChain(id chains.ChainID) LocalOption {
	return func(l *Local) { l.state.ChainID = id }
}

// WithApproval installs a signing approval hook.
func WithApproval(fn ApproveFunc) LocalOption {
	return func(l *Local) { l.approve = fn }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal constructs a keystore provider. passphrase is resolved lazily on
// the first Connect.
func NewLocal(registry *chains.Registry, keyJSON []byte, passphrase func() (string, error), dial DialFunc, opts ...LocalOption) (*Local, error) {
	if registry == nil {
		return nil, fmt.Errorf("wallet: registry required")
	}
	if len(keyJSON) == 0 {
		return nil, fmt.Errorf("wallet: keystore required")
	}
	if passphrase == nil {
		return nil, fmt.Errorf("wallet: passphrase source required")
	}
	if dial == nil {
		return nil, fmt.Errorf("wallet: dialer required")
	}
	l := &Local{
		registry:   registry,
		keyJSON:    append([]byte(nil), keyJSON...),
		passphrase: passphrase,
		dial:       dial,
		logger:     slog.Default(),
		state:      State{ChainID: registry.Default().ID},
	}
	for _, opt := range opts {
		opt(l)
	}
	if !registry.IsSupported(l.state.ChainID) {
		return nil, fmt.Errorf("%w: initial chain %d", chains.ErrUnsupportedChain, l.state.ChainID)
	}
	return l, nil
}

// Connect unlocks the keystore and verifies the active chain's endpoint.
func (l *Local) Connect(ctx context.Context) (State, error) {
	l.mu.RLock()
	if l.state.Connected {
		state := l.state
		l.mu.RUnlock()
		return state, nil
	}
	chainID := l.state.ChainID
	l.mu.RUnlock()

	pass, err := l.passphrase()
	if err != nil {
		return l.State(), &RejectedError{Op: "connect", Reason: err.Error()}
	}
	key, err := keystore.DecryptKey(l.keyJSON, pass)
	if err != nil {
		return l.State(), &RejectedError{Op: "connect", Reason: err.Error()}
	}
	if err := l.verifyChain(ctx, chainID); err != nil {
		return l.State(), err
	}

	l.mu.Lock()
	l.key = key.PrivateKey
	l.state.Connected = true
	l.state.Address = key.Address
	state := l.state
	l.mu.Unlock()

	l.logger.Info("wallet connected", slog.String("address", key.Address.Hex()), slog.Uint64("chain_id", uint64(chainID)))
	l.hub.Publish(state)
	return state, nil
}

// Disconnect forgets the decrypted key.
func (l *Local) Disconnect(context.Context) error {
	l.mu.Lock()
	if !l.state.Connected {
		l.mu.Unlock()
		return nil
	}
	l.key = nil
	l.state.Connected = false
	l.state.Address = common.Address{}
	state := l.state
	l.mu.Unlock()

	l.logger.Info("wallet disconnected")
	l.hub.Publish(state)
	return nil
}

// SwitchChain moves the provider to id after checking the endpoint serves it.
func (l *Local) SwitchChain(ctx context.Context, id chains.ChainID) error {
	if !l.registry.IsSupported(id) {
		return fmt.Errorf("%w: %d", chains.ErrUnsupportedChain, id)
	}
	l.mu.RLock()
	connected := l.state.Connected
	current := l.state.ChainID
	l.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	if current == id {
		return nil
	}
	if err := l.verifyChain(ctx, id); err != nil {
		return err
	}

	l.mu.Lock()
	l.state.ChainID = id
	state := l.state
	l.mu.Unlock()

	l.logger.Info("wallet switched chain", slog.Uint64("chain_id", uint64(id)))
	l.hub.Publish(state)
	return nil
}

func (l *Local) verifyChain(ctx context.Context, id chains.ChainID) error {
	backend, err := l.dial(ctx, id)
	if err != nil {
		return fmt.Errorf("wallet: dial chain %d: %w", id, err)
	}
	remote, err := backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("wallet: query chain id: %w", err)
	}
	if remote.Cmp(new(big.Int).SetUint64(uint64(id))) != 0 {
		return fmt.Errorf("wallet: endpoint for chain %d reports chain %s", id, remote)
	}
	return nil
}

// State returns the current wallet status.
func (l *Local) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Subscribe streams subsequent state changes.
func (l *Local) Subscribe() (<-chan State, func()) {
	return l.hub.Subscribe()
}

// Balance reads the connected account's native or token balance on the
// active chain.
func (l *Local) Balance(ctx context.Context, token *common.Address) (*big.Int, error) {
	state := l.State()
	if !state.Connected {
		return nil, ErrNotConnected
	}
	backend, err := l.dial(ctx, state.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial chain %d: %w", state.ChainID, err)
	}
	if token == nil {
		return backend.BalanceAt(ctx, state.Address, nil)
	}
	return erc20Balance(ctx, backend, *token, state.Address)
}

// Address returns the connected account or the zero address.
func (l *Local) Address() common.Address {
	return l.State().Address
}

// SignTx signs tx for chainID with the unlocked key. The chain must be the
// active one.
func (l *Local) SignTx(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	l.mu.RLock()
	key := l.key
	state := l.state
	l.mu.RUnlock()
	if !state.Connected || key == nil {
		return nil, ErrNotConnected
	}
	if chainID == nil || chainID.Cmp(new(big.Int).SetUint64(uint64(state.ChainID))) != 0 {
		return nil, fmt.Errorf("%w: active %d", ErrWrongChain, state.ChainID)
	}
	if l.approve != nil {
		if err := l.approve(ctx, chainID, tx); err != nil {
			return nil, &RejectedError{Op: "transaction", Reason: err.Error()}
		}
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
