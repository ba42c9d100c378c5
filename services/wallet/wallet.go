// Package wallet defines the wallet-provider capability the orchestration
// layer consumes and ships a keystore backed implementation of it.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
)

var (
	// ErrNotConnected is returned by operations that need an unlocked account.
	ErrNotConnected = errors.New("wallet: not connected")
	// ErrWrongChain is returned when a request targets a chain other than the
	// active one.
	ErrWrongChain = errors.New("wallet: wrong chain")
)

// State is the observable wallet status.
type State struct {
	Connected bool           `json:"connected"`
	Address   common.Address `json:"address"`
	ChainID   chains.ChainID `json:"chainId"`
}

// Provider is the wallet capability: connection management, chain switching
// and status observation. Implementations publish every state change to
// subscribers.
type Provider interface {
	Connect(ctx context.Context) (State, error)
	Disconnect(ctx context.Context) error
	SwitchChain(ctx context.Context, id chains.ChainID) error
	State() State
	Subscribe() (<-chan State, func())
	// Balance returns the native balance when token is nil, otherwise the
	// ERC-20 balance of the connected account.
	Balance(ctx context.Context, token *common.Address) (*big.Int, error)
}

// RejectedError reports a request the account holder declined. It carries the
// EIP-1193 code so callers can classify it without inspecting the message.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("wallet: user rejected %s", e.Op)
	}
	return fmt.Sprintf("wallet: user rejected %s: %s", e.Op, e.Reason)
}

// ErrorCode implements the go-ethereum rpc.Error interface.
func (e *RejectedError) ErrorCode() int { return CodeUserRejected }
