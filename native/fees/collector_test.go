package fees

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

var (
	usdc      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	owner     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
	client    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c2")
	payer     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c3")
	collected = ethcommon.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type collectorFixture struct {
	collector *Collector
	ledger    *token.Ledger
	events    *events.Buffer
}

func newCollectorFixture(t *testing.T, clientRate uint64) collectorFixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(st)
	require.NoError(t, ledger.Register(token.Metadata{Address: usdc, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, ledger.Mint(usdc, payer, uint256.NewInt(1_000_000)))

	buf := &events.Buffer{}
	c := NewCollector(collected, ledger)
	c.SetState(st)
	c.SetEmitter(buf)
	require.NoError(t, c.Init(Settings{Owner: owner, ProtocolFeeRatePermille: 10, ClientRate: clientRate}))
	return collectorFixture{collector: c, ledger: ledger, events: buf}
}

func TestCollectFeesCreditsClient(t *testing.T) {
	fx := newCollectorFixture(t, 60)
	require.NoError(t, fx.collector.SetClientTakeRate(client, 50))

	receipt, err := fx.collector.CollectFees(payer, client, usdc, uint256.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, uint64(100), receipt.MaxFee.Uint64())
	require.Equal(t, uint64(70), receipt.ProtocolFee.Uint64())
	require.Equal(t, uint64(30), receipt.ClientFee.Uint64())
	require.Equal(t, uint64(30), receipt.UserSavings.Uint64())
	require.Equal(t, uint64(9_930), receipt.Net.Uint64())

	held, err := fx.ledger.BalanceOf(usdc, collected)
	require.NoError(t, err)
	require.Equal(t, uint64(70), held.Uint64())
	owed, err := fx.collector.Balance(client, usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(30), owed.Uint64())
	revenue, err := fx.collector.Revenue(usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(40), revenue.Uint64())

	tokens, err := fx.collector.ClientTokens(client)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{usdc}, tokens)

	var seen bool
	for _, ev := range fx.events.Events() {
		if ev.EventType() == events.TypeFeesCollected {
			seen = true
		}
	}
	require.True(t, seen, "expected fees collected event")
}

func TestCollectFeesWithoutClient(t *testing.T) {
	fx := newCollectorFixture(t, 60)
	receipt, err := fx.collector.CollectFees(payer, ethcommon.Address{}, usdc, uint256.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, uint64(100), receipt.ProtocolFee.Uint64())
	require.True(t, receipt.ClientFee.IsZero())
	total, err := fx.collector.TotalClientBalance(usdc)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestClientWithdrawAndSweepKeepLedgerSolvent(t *testing.T) {
	fx := newCollectorFixture(t, 30)
	require.NoError(t, fx.collector.SetClientTakeRate(client, 50))
	for i := 0; i < 3; i++ {
		_, err := fx.collector.CollectFees(payer, client, usdc, uint256.NewInt(10_000))
		require.NoError(t, err)
		require.NoError(t, fx.collector.CheckInvariant(usdc))
	}

	swept, err := fx.collector.Sweep(owner, usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(3*70), swept.Uint64())
	require.NoError(t, fx.collector.CheckInvariant(usdc))

	paid, err := fx.collector.ClientWithdraw(client, usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(3*15), paid.Uint64())
	bal, err := fx.ledger.BalanceOf(usdc, client)
	require.NoError(t, err)
	require.Equal(t, uint64(45), bal.Uint64())

	again, err := fx.collector.ClientWithdraw(client, usdc)
	require.NoError(t, err)
	require.True(t, again.IsZero())

	held, err := fx.ledger.BalanceOf(usdc, collected)
	require.NoError(t, err)
	require.True(t, held.IsZero())
}

// requireClientBooksBalance checks the per-client entries add up to the
// aggregate and that the collector still holds at least that much.
func requireClientBooksBalance(t *testing.T, fx collectorFixture, clients []ethcommon.Address) {
	t.Helper()
	sum := new(uint256.Int)
	for _, cl := range clients {
		owed, err := fx.collector.Balance(cl, usdc)
		require.NoError(t, err)
		sum.Add(sum, owed)
	}
	total, err := fx.collector.TotalClientBalance(usdc)
	require.NoError(t, err)
	require.Equal(t, sum.Dec(), total.Dec())
	held, err := fx.ledger.BalanceOf(usdc, collected)
	require.NoError(t, err)
	require.False(t, total.Gt(held), "owed %s exceeds held %s", total, held)
	require.NoError(t, fx.collector.CheckInvariant(usdc))
}

func TestClientBooksStayConsistentAcrossClients(t *testing.T) {
	fx := newCollectorFixture(t, 45)
	clients := []ethcommon.Address{
		ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		ethcommon.HexToAddress("0x00000000000000000000000000000000000000d2"),
		ethcommon.HexToAddress("0x00000000000000000000000000000000000000d3"),
	}
	for i, rate := range []uint64{0, 35, 100} {
		require.NoError(t, fx.collector.SetClientTakeRate(clients[i], rate))
	}

	paidOut := make(map[ethcommon.Address]uint64)
	for i := 0; i < 30; i++ {
		cl := clients[i%len(clients)]
		gross := uint256.NewInt(uint64(7_000 + 311*i))
		_, err := fx.collector.CollectFees(payer, cl, usdc, gross)
		require.NoError(t, err)
		requireClientBooksBalance(t, fx, clients)

		if i%7 == 6 {
			w := clients[(i/7)%len(clients)]
			paid, err := fx.collector.ClientWithdraw(w, usdc)
			require.NoError(t, err)
			paidOut[w] += paid.Uint64()
			owed, err := fx.collector.Balance(w, usdc)
			require.NoError(t, err)
			require.True(t, owed.IsZero())
			requireClientBooksBalance(t, fx, clients)
		}
		if i == 20 {
			_, err := fx.collector.Sweep(owner, usdc)
			require.NoError(t, err)
			requireClientBooksBalance(t, fx, clients)
		}
	}

	total, err := fx.collector.TotalClientBalance(usdc)
	require.NoError(t, err)
	_, err = fx.collector.Sweep(owner, usdc)
	require.NoError(t, err)
	requireClientBooksBalance(t, fx, clients)

	held, err := fx.ledger.BalanceOf(usdc, collected)
	require.NoError(t, err)
	require.Equal(t, total.Dec(), held.Dec())

	for _, cl := range clients {
		_, err := fx.collector.ClientWithdraw(cl, usdc)
		require.NoError(t, err)
		requireClientBooksBalance(t, fx, clients)
	}
	held, err = fx.ledger.BalanceOf(usdc, collected)
	require.NoError(t, err)
	require.True(t, held.IsZero())

	// A zero take rate leaves the client nothing to withdraw.
	require.Zero(t, paidOut[clients[0]])
	bal, err := fx.ledger.BalanceOf(usdc, clients[0])
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	bal, err = fx.ledger.BalanceOf(usdc, clients[2])
	require.NoError(t, err)
	require.False(t, bal.IsZero())
}

func TestOwnerOnlySettings(t *testing.T) {
	fx := newCollectorFixture(t, 30)
	err := fx.collector.SetClientRate(client, 50)
	require.True(t, errors.Is(err, common.ErrUnauthorized), "got %v", err)
	_, err = fx.collector.Sweep(client, usdc)
	require.True(t, errors.Is(err, common.ErrUnauthorized), "got %v", err)

	err = fx.collector.SetClientRate(owner, 20)
	require.True(t, errors.Is(err, common.ErrOutOfRange), "got %v", err)
	require.NoError(t, fx.collector.SetClientRate(owner, 80))
	settings, err := fx.collector.Settings()
	require.NoError(t, err)
	require.Equal(t, uint64(80), settings.ClientRate)

	err = fx.collector.SetProtocolFeeRate(owner, 101)
	require.True(t, errors.Is(err, common.ErrOutOfRange), "got %v", err)
	err = fx.collector.SetClientTakeRate(client, 101)
	require.True(t, errors.Is(err, common.ErrOutOfRange), "got %v", err)
	require.ErrorIs(t, fx.collector.Init(Settings{Owner: owner, ProtocolFeeRatePermille: 3}), ErrAlreadyInit)
}

func TestClientAllocations(t *testing.T) {
	fx := newCollectorFixture(t, 60)
	require.NoError(t, fx.collector.SetClientTakeRate(client, 50))
	savings, earned, err := fx.collector.ClientAllocations(client, uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint64(30), savings.Uint64())
	require.Equal(t, uint64(30), earned.Uint64())
}

func TestCollectFeesPaused(t *testing.T) {
	fx := newCollectorFixture(t, 30)
	fx.collector.SetPauses(common.StaticPauses{"fees": true})
	_, err := fx.collector.CollectFees(payer, client, usdc, uint256.NewInt(10))
	require.ErrorIs(t, err, common.ErrModulePaused)
}
