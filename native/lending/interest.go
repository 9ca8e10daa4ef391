package lending

import (
	"fmt"
	"math/big"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

// InterestModel encapsulates the parameters that shape how a reserve's
// interest rates react to utilisation.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink is the utilisation where the borrow rate slope changes.
	Kink *big.Rat
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// NewInterestModel constructs an interest model from basis point inputs, e.g.
// a 2% base rate is 200 and an 80% kink utilisation is 8000.
func NewInterestModel(baseRateBps, slope1Bps, slope2Bps, kinkBps uint64) (*InterestModel, error) {
	if kinkBps > 10_000 {
		return nil, fmt.Errorf("%w: kink %d bps exceeds 100%%", common.ErrOutOfRange, kinkBps)
	}
	return &InterestModel{
		BaseRate: bpsRat(baseRateBps),
		Slope1:   bpsRat(slope1Bps),
		Slope2:   bpsRat(slope2Bps),
		Kink:     bpsRat(kinkBps),
	}, nil
}

func bpsRat(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// Utilisation computes U = totalBorrowed / totalSupplied. When no liquidity
// exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return u
}

// BorrowAPR derives the dynamic borrow APR based on the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY derives the supplier rate from the borrow APR, utilisation and
// the reserve factor in basis points.
func (m *InterestModel) SupplyAPY(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(totalBorrowed, totalSupplied)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	oneMinusReserve := new(big.Rat).Sub(big.NewRat(1, 1), bpsRat(reserveFactorBps))
	supplyAPY := new(big.Rat).Mul(borrowAPR, utilisation)
	return supplyAPY.Mul(supplyAPY, oneMinusReserve)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel is a kinked curve with a 2% base rate, 15% slope up to
// 80% utilisation and a steep 60% slope beyond.
var DefaultInterestModel = &InterestModel{
	BaseRate: big.NewRat(2, 100),
	Slope1:   big.NewRat(15, 100),
	Slope2:   big.NewRat(60, 100),
	Kink:     big.NewRat(80, 100),
}
