package fees

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

func TestAllocateSplitsMaxFee(t *testing.T) {
	cases := []struct {
		name                      string
		take, clientRate          uint64
		savings, client, protocol uint64
	}{
		{"half take at 60", 50, 60, 30, 30, 70},
		{"half take at 30", 50, 30, 15, 15, 85},
		{"full take", 100, 30, 0, 30, 100},
		{"zero take", 0, 100, 100, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alloc, err := Allocate(uint256.NewInt(100), tc.take, tc.clientRate)
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			if alloc.UserSavings.Uint64() != tc.savings || alloc.ClientFee.Uint64() != tc.client || alloc.ProtocolFee.Uint64() != tc.protocol {
				t.Fatalf("unexpected split: savings=%s client=%s protocol=%s", alloc.UserSavings, alloc.ClientFee, alloc.ProtocolFee)
			}
		})
	}
}

func TestAllocateConservesMaxFee(t *testing.T) {
	for _, maxFee := range []uint64{0, 1, 7, 99, 1_000, 123_456_789} {
		for take := uint64(0); take <= MaxTakeRate; take += 7 {
			for rate := MinClientRate; rate <= MaxClientRate; rate += 11 {
				alloc, err := Allocate(uint256.NewInt(maxFee), take, rate)
				if err != nil {
					t.Fatalf("allocate(%d,%d,%d): %v", maxFee, take, rate, err)
				}
				if alloc.ProtocolFee.Uint64()+alloc.UserSavings.Uint64() != maxFee {
					t.Fatalf("protocol+savings != maxFee for %d/%d/%d", maxFee, take, rate)
				}
				if alloc.ClientFee.Gt(alloc.ProtocolFee) {
					t.Fatalf("client fee exceeds protocol fee for %d/%d/%d", maxFee, take, rate)
				}
				share := maxFee * rate / 100
				got := alloc.ClientFee.Uint64() + alloc.UserSavings.Uint64()
				if got > share || share-got > 1 {
					t.Fatalf("client+savings=%d, want %d within rounding", got, share)
				}
			}
		}
	}
}

func TestSplitWithoutClient(t *testing.T) {
	alloc, err := Split(uint256.NewInt(10_000), 3, 50, 60, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if alloc.MaxFee.Uint64() != 30 || alloc.ProtocolFee.Uint64() != 30 || !alloc.ClientFee.IsZero() || !alloc.UserSavings.IsZero() {
		t.Fatalf("unexpected split: %+v", alloc)
	}
	if alloc.Revenue().Uint64() != 30 {
		t.Fatalf("expected full revenue, got %s", alloc.Revenue())
	}
}

func TestRateValidation(t *testing.T) {
	if err := ValidateClientRate(29); !errors.Is(err, common.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := ValidateClientRate(101); !errors.Is(err, ErrClientRateOutOfRange) {
		t.Fatalf("expected client rate error, got %v", err)
	}
	if err := ValidateTakeRate(101); !errors.Is(err, common.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := ValidateProtocolFeeRate(0); !errors.Is(err, ErrProtocolRateOutOfRange) {
		t.Fatalf("expected protocol rate error, got %v", err)
	}
	if _, err := Allocate(uint256.NewInt(1), 0, 101); !errors.Is(err, common.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}
