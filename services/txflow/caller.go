package txflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
)

// Call is one state-changing contract invocation.
type Call struct {
	ChainID chains.ChainID
	To      common.Address
	Method  string
	Args    []any
	Value   *big.Int
}

// Confirmation is the on-chain result of a submitted call.
type Confirmation struct {
	Hash        common.Hash
	Success     bool
	BlockNumber uint64
}

// ContractCaller submits calls and waits for their inclusion.
type ContractCaller interface {
	WriteCall(ctx context.Context, call Call) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash) (Confirmation, error)
}

// FuncCaller adapts callback functions to the ContractCaller interface.
type FuncCaller struct {
	WriteFunc func(ctx context.Context, call Call) (common.Hash, error)
	AwaitFunc func(ctx context.Context, hash common.Hash) (Confirmation, error)
}

// WriteCall delegates to the configured callback.
func (c FuncCaller) WriteCall(ctx context.Context, call Call) (common.Hash, error) {
	if c.WriteFunc == nil {
		return common.Hash{}, nil
	}
	return c.WriteFunc(ctx, call)
}

// AwaitConfirmation delegates to the configured callback. Without one every
// hash confirms successfully.
func (c FuncCaller) AwaitConfirmation(ctx context.Context, hash common.Hash) (Confirmation, error) {
	if c.AwaitFunc == nil {
		return Confirmation{Hash: hash, Success: true}, nil
	}
	return c.AwaitFunc(ctx, hash)
}
