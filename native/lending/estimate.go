package lending

import "math/big"

// RateCurve is a kinked borrow-rate curve. It is only used to estimate APYs
// for pools the indexer has no figures for; on-chain rates remain
// authoritative.
type RateCurve struct {
	// Base is the borrow rate at zero utilisation.
	Base *big.Rat
	// Slope1 applies per unit of utilisation up to Kink.
	Slope1 *big.Rat
	// Slope2 applies per unit of utilisation above Kink.
	Slope2 *big.Rat
	Kink   *big.Rat
}

// NewRateCurve builds a curve from decimal fractions (0.02 is 2%).
func NewRateCurve(base, slope1, slope2, kink float64) RateCurve {
	return RateCurve{
		Base:   new(big.Rat).SetFloat64(base),
		Slope1: new(big.Rat).SetFloat64(slope1),
		Slope2: new(big.Rat).SetFloat64(slope2),
		Kink:   new(big.Rat).SetFloat64(kink),
	}
}

// DefaultRateCurve mirrors the parameters most deployed pools start with.
var DefaultRateCurve = NewRateCurve(0.02, 0.15, 0.6, 0.8)

// Utilisation is TotalBorrowAssets / TotalSupplyAssets, zero for an empty
// pool.
func (t PoolTotals) Utilisation() *big.Rat {
	if isZero(t.TotalBorrowAssets) || isZero(t.TotalSupplyAssets) {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(t.TotalBorrowAssets, t.TotalSupplyAssets)
}

// BorrowRate evaluates the curve at utilisation u.
func (c RateCurve) BorrowRate(u *big.Rat) *big.Rat {
	rate := ratOrZero(c.Base)
	if u == nil || u.Sign() <= 0 {
		return rate
	}
	kink := ratOrZero(c.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(ratOrZero(c.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(ratOrZero(c.Slope1), kink))
	excess := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, excess.Mul(excess, ratOrZero(c.Slope2)))
}

// SupplyRate is the borrow rate shared across suppliers after the reserve
// factor (basis points) is taken.
func (c RateCurve) SupplyRate(u *big.Rat, reserveFactorBps uint64) *big.Rat {
	if u == nil || u.Sign() <= 0 {
		return new(big.Rat)
	}
	keep := new(big.Rat).SetFrac64(10_000-int64(min(reserveFactorBps, 10_000)), 10_000)
	rate := c.BorrowRate(u)
	rate.Mul(rate, u)
	return rate.Mul(rate, keep)
}

// EstimateAPY returns borrow and supply rates for t as percentages.
func EstimateAPY(t PoolTotals, curve RateCurve, reserveFactorBps uint64) (borrowPct, supplyPct float64) {
	u := t.Utilisation()
	hundred := big.NewRat(100, 1)
	borrowPct, _ = new(big.Rat).Mul(curve.BorrowRate(u), hundred).Float64()
	supplyPct, _ = new(big.Rat).Mul(curve.SupplyRate(u, reserveFactorBps), hundred).Float64()
	return borrowPct, supplyPct
}

func ratOrZero(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
