package lending

import (
	"fmt"
	"math/big"
	"strings"
)

// PoolTotals captures the aggregate accounting a pool contract reports. All
// values are raw token units (already scaled by the token decimals).
type PoolTotals struct {
	// TotalSupplyAssets is the liquidity deposited by lenders, including
	// accrued interest.
	TotalSupplyAssets *big.Int
	// TotalSupplyShares is the number of liquidity shares outstanding.
	TotalSupplyShares *big.Int
	// TotalBorrowAssets is the outstanding debt including accrued interest.
	TotalBorrowAssets *big.Int
	// TotalBorrowShares is the number of debt shares outstanding.
	TotalBorrowShares *big.Int
}

// Empty reports whether the pool has no recorded borrow liquidity yet.
func (t PoolTotals) Empty() bool {
	return isZero(t.TotalBorrowAssets) || isZero(t.TotalBorrowShares)
}

// Clone returns a deep copy of the totals.
func (t PoolTotals) Clone() PoolTotals {
	return PoolTotals{
		TotalSupplyAssets: cloneInt(t.TotalSupplyAssets),
		TotalSupplyShares: cloneInt(t.TotalSupplyShares),
		TotalBorrowAssets: cloneInt(t.TotalBorrowAssets),
		TotalBorrowShares: cloneInt(t.TotalBorrowShares),
	}
}

// ParseTotals builds PoolTotals from base-10 strings as delivered by the
// indexer. Blank values are treated as zero.
func ParseTotals(supplyAssets, supplyShares, borrowAssets, borrowShares string) (PoolTotals, error) {
	var (
		totals PoolTotals
		err    error
	)
	if totals.TotalSupplyAssets, err = parseUint("totalSupplyAssets", supplyAssets); err != nil {
		return PoolTotals{}, err
	}
	if totals.TotalSupplyShares, err = parseUint("totalSupplyShares", supplyShares); err != nil {
		return PoolTotals{}, err
	}
	if totals.TotalBorrowAssets, err = parseUint("totalBorrowAssets", borrowAssets); err != nil {
		return PoolTotals{}, err
	}
	if totals.TotalBorrowShares, err = parseUint("totalBorrowShares", borrowShares); err != nil {
		return PoolTotals{}, err
	}
	return totals, nil
}

func parseUint(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("lending: invalid %s %q", field, raw)
	}
	return value, nil
}

func isZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}
