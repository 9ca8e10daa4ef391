package lending

import (
	"math/big"
	"testing"
)

func TestBorrowAPRFollowsKink(t *testing.T) {
	model, err := NewInterestModel(200, 1_500, 6_000, 8_000)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	supplied := big.NewInt(1_000)

	if got := model.BorrowAPR(big.NewInt(0), supplied); got.Cmp(big.NewRat(2, 100)) != 0 {
		t.Fatalf("unexpected idle rate %s", got.FloatString(4))
	}
	// 50% utilisation: 2% + 15% * 0.5
	if got := model.BorrowAPR(big.NewInt(500), supplied); got.Cmp(big.NewRat(95, 1_000)) != 0 {
		t.Fatalf("unexpected pre-kink rate %s", got.FloatString(4))
	}
	// 90% utilisation: 2% + 15% * 0.8 + 60% * 0.1
	if got := model.BorrowAPR(big.NewInt(900), supplied); got.Cmp(big.NewRat(20, 100)) != 0 {
		t.Fatalf("unexpected post-kink rate %s", got.FloatString(4))
	}
}

func TestSupplyAPYWithholdsReserveFactor(t *testing.T) {
	model := DefaultInterestModel.Clone()
	borrowed, supplied := big.NewInt(500), big.NewInt(1_000)
	full := model.SupplyAPY(borrowed, supplied, 0)
	withheld := model.SupplyAPY(borrowed, supplied, 1_000)
	if withheld.Cmp(full) >= 0 {
		t.Fatalf("reserve factor should reduce supplier yield")
	}
	if _, err := NewInterestModel(0, 0, 0, 10_001); err == nil {
		t.Fatalf("expected kink validation error")
	}
}
