package lending

import (
	"math"
	"math/big"
	"testing"
)

func TestUtilisation(t *testing.T) {
	totals := PoolTotals{TotalSupplyAssets: big.NewInt(1000), TotalBorrowAssets: big.NewInt(250)}
	if got := totals.Utilisation(); got.Cmp(big.NewRat(1, 4)) != 0 {
		t.Fatalf("utilisation = %s, want 1/4", got.RatString())
	}
	if got := (PoolTotals{}).Utilisation(); got.Sign() != 0 {
		t.Fatalf("empty pool utilisation = %s", got.RatString())
	}
}

func TestRateCurve(t *testing.T) {
	curve := NewRateCurve(0.02, 0.1, 1, 0.8)
	cases := []struct {
		name string
		u    *big.Rat
		want float64
	}{
		{name: "idle", u: new(big.Rat), want: 0.02},
		{name: "below kink", u: big.NewRat(1, 2), want: 0.07},
		{name: "at kink", u: big.NewRat(4, 5), want: 0.10},
		{name: "above kink", u: big.NewRat(9, 10), want: 0.20},
	}
	for _, tc := range cases {
		got, _ := curve.BorrowRate(tc.u).Float64()
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: borrow rate = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func TestEstimateAPY(t *testing.T) {
	totals := PoolTotals{TotalSupplyAssets: big.NewInt(100), TotalBorrowAssets: big.NewInt(50)}
	curve := NewRateCurve(0.02, 0.1, 1, 0.8)
	borrow, supply := EstimateAPY(totals, curve, 1_000)
	if math.Abs(borrow-7) > 1e-9 {
		t.Fatalf("borrow = %f, want 7", borrow)
	}
	// 0.07 * 0.5 * 0.9 = 0.0315
	if math.Abs(supply-3.15) > 1e-9 {
		t.Fatalf("supply = %f, want 3.15", supply)
	}

	borrow, supply = EstimateAPY(PoolTotals{}, curve, 0)
	if math.Abs(borrow-2) > 1e-9 || supply != 0 {
		t.Fatalf("empty pool estimate = %f/%f", borrow, supply)
	}
}
