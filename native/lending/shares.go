package lending

import (
	"errors"
	"math/big"
)

// wad is the 1e18 fixed-point scale pool contracts use for ratios.
var wad = mustBigInt("1000000000000000000")

// ErrInvalidLTV is returned for loan-to-value ratios outside (0, 1e18].
var ErrInvalidLTV = errors.New("lending: ltv must be within (0, 1e18]")

// ComputeShares converts an underlying asset amount into pool share units
// using the pool's running totals: floor(amount * totalAssets / totalShares).
// A pool with no recorded liquidity (either total zero or missing) yields
// zero shares, as does a zero amount.
func ComputeShares(userAssetAmount, totalAssets, totalShares *big.Int) *big.Int {
	if userAssetAmount == nil || userAssetAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalAssets == nil || totalAssets.Sign() <= 0 || totalShares == nil || totalShares.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(userAssetAmount, totalAssets)
	return scaled.Quo(scaled, totalShares)
}

// SharesFor applies ComputeShares to the borrow side of the pool totals.
func (t PoolTotals) SharesFor(amount *big.Int) *big.Int {
	return ComputeShares(amount, t.TotalBorrowAssets, t.TotalBorrowShares)
}

// LiquiditySharesFor applies ComputeShares to the supply side of the pool totals.
func (t PoolTotals) LiquiditySharesFor(amount *big.Int) *big.Int {
	return ComputeShares(amount, t.TotalSupplyAssets, t.TotalSupplyShares)
}

// ValidateLTV checks a loan-to-value ratio expressed in wad units, where
// 1e18 is 100%.
func ValidateLTV(ltv *big.Int) error {
	if ltv == nil || ltv.Sign() <= 0 || ltv.Cmp(wad) > 0 {
		return ErrInvalidLTV
	}
	return nil
}

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
