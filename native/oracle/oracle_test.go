package oracle

import (
	"errors"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

func TestAssetPriceHonoursMaxAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := New(time.Hour)
	o.SetState(state.NewManager(storage.NewMemDB()))
	o.SetNowFunc(func() time.Time { return now })
	buf := &events.Buffer{}
	o.SetEmitter(buf)
	weth := ethcommon.HexToAddress("0xeeee")

	if _, err := o.AssetPrice(weth); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected missing price, got %v", err)
	}
	if err := o.SetPrice(weth, uint256.NewInt(2_000_00000000), "admin"); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, err := o.AssetPrice(weth)
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	if price.Uint64() != 2_000_00000000 {
		t.Fatalf("unexpected price %s", price)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected price update event")
	}

	now = now.Add(2 * time.Hour)
	if _, err := o.AssetPrice(weth); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
	quote, err := o.Quote(weth)
	if err != nil || quote.Source != "admin" {
		t.Fatalf("quote should stay readable: %+v %v", quote, err)
	}
}

func TestSetPriceRejectsZero(t *testing.T) {
	o := New(0)
	o.SetState(state.NewManager(storage.NewMemDB()))
	err := o.SetPrice(ethcommon.HexToAddress("0x1"), new(uint256.Int), "")
	if !errors.Is(err, common.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}
