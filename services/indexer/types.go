// Package indexer resolves pool listings and APY figures from the per-chain
// GraphQL indexers.
package indexer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
	"omnipool/native/lending"
)

// ErrNoEndpoint is returned for chains without an indexer endpoint.
var ErrNoEndpoint = errors.New("indexer: no endpoint for chain")

// Pool is one lending pool as listed by the indexer.
type Pool struct {
	Address         common.Address     `json:"address"`
	ChainID         chains.ChainID     `json:"chainId"`
	CollateralToken common.Address     `json:"collateralToken"`
	BorrowToken     common.Address     `json:"borrowToken"`
	LTV             *big.Int           `json:"ltv"`
	Totals          lending.PoolTotals `json:"totals"`
}

// APY holds annualised rates in percent.
type APY struct {
	Supply float64 `json:"supply"`
	Borrow float64 `json:"borrow"`
	// Estimated is set when the figures were derived locally from pool totals.
	Estimated bool `json:"estimated,omitempty"`
}

// Source is the query surface the rest of the daemon consumes.
type Source interface {
	Pools(ctx context.Context, chain chains.ChainID) ([]Pool, error)
	PoolAPY(ctx context.Context, chain chains.ChainID, pool common.Address) (APY, error)
}
