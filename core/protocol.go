package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/config"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/lending"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/oracle"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/position"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/swap"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
)

var (
	ErrGenesisApplied  = errors.New("core: genesis already applied")
	ErrNotBootstrapped = errors.New("core: protocol not bootstrapped")
)

var (
	genesisKey     = []byte("protocol/genesis")
	quotaKeyPrefix = []byte("protocol/quota/position/")
)

// Addresses are the accounts custodying each module's funds.
type Addresses struct {
	Factory   ethcommon.Address
	Pool      ethcommon.Address
	Router    ethcommon.Address
	Collector ethcommon.Address
}

// Protocol is the entry point for every operation. Each call runs as one
// atomic operation on the executor with freshly bound module engines.
type Protocol struct {
	exec           *Executor
	owner          ethcommon.Address
	addrs          Addresses
	oracleMaxAge   time.Duration
	swapDeadline   time.Duration
	interestBuffer uint64
	interest       map[ethcommon.Address]*lending.InterestModel
	pauses         common.PauseView
	quota          common.Quota
}

// NewProtocol binds the configured protocol to an executor.
func NewProtocol(exec *Executor, cfg *config.Protocol) (*Protocol, error) {
	if exec == nil {
		return nil, fmt.Errorf("core: executor required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("core: protocol config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Protocol{
		exec:           exec,
		oracleMaxAge:   cfg.OracleMaxAge(),
		swapDeadline:   cfg.SwapDeadline(),
		interestBuffer: cfg.InterestBuffer,
		interest:       make(map[ethcommon.Address]*lending.InterestModel),
		pauses:         cfg.Pauses,
		quota: common.Quota{
			MaxRequestsPerEpoch: cfg.Quotas.Position.MaxRequestsPerEpoch,
			EpochSeconds:        cfg.Quotas.Position.EpochSeconds,
		},
	}
	p.owner, _ = config.ParseAddress(cfg.Owner)
	p.addrs.Factory, _ = config.ParseAddress(cfg.FactoryAddress)
	p.addrs.Pool, _ = config.ParseAddress(cfg.PoolAddress)
	p.addrs.Router, _ = config.ParseAddress(cfg.RouterAddress)
	p.addrs.Collector, _ = config.ParseAddress(cfg.CollectorAddress)
	for _, tok := range cfg.Tokens {
		if tok.Interest == nil {
			continue
		}
		model, err := lending.NewInterestModel(tok.Interest.BaseBps, tok.Interest.Slope1Bps, tok.Interest.Slope2Bps, tok.Interest.KinkBps)
		if err != nil {
			return nil, fmt.Errorf("core: token %s interest model: %w", tok.Symbol, err)
		}
		addr, _ := config.ParseAddress(tok.Address)
		p.interest[addr] = model
	}
	return p, nil
}

// Owner returns the protocol administrator.
func (p *Protocol) Owner() ethcommon.Address { return p.owner }

// Addresses returns the module custody accounts.
func (p *Protocol) Addresses() Addresses { return p.addrs }

// engines are the module engines bound to one operation.
type engines struct {
	ledger    *token.Ledger
	oracle    *oracle.Oracle
	pool      *lending.Pool
	router    *swap.Router
	collector *fees.Collector
	registry  *position.Registry
	lifecycle *position.Lifecycle
}

func (p *Protocol) bind(tx *Tx) *engines {
	now := func() time.Time { return tx.Now }

	ledger := token.NewLedger()
	ledger.SetState(tx.State)
	ledger.SetEmitter(tx.Events)
	ledger.SetNowFunc(now)

	prices := oracle.New(p.oracleMaxAge)
	prices.SetState(tx.State)
	prices.SetEmitter(tx.Events)
	prices.SetNowFunc(now)

	pool := lending.NewPool(p.addrs.Pool, ledger, prices)
	pool.SetState(tx.State)
	pool.SetPauses(p.pauses)
	pool.SetNowFunc(now)
	for addr, model := range p.interest {
		pool.SetInterestModel(addr, model)
	}

	router := swap.NewRouter(p.addrs.Router, ledger)
	router.SetState(tx.State)
	router.SetEmitter(tx.Events)
	router.SetPauses(p.pauses)
	router.SetNowFunc(now)

	collector := fees.NewCollector(p.addrs.Collector, ledger)
	collector.SetState(tx.State)
	collector.SetEmitter(tx.Events)
	collector.SetPauses(p.pauses)

	registry := position.NewRegistry(p.addrs.Factory, ledger)
	registry.SetState(tx.State)
	registry.SetEmitter(tx.Events)
	registry.SetNowFunc(now)

	lifecycle := position.NewLifecycle(ledger, pool, router, prices, collector)
	lifecycle.SetEmitter(tx.Events)
	lifecycle.SetPauses(p.pauses)
	lifecycle.SetNowFunc(now)
	lifecycle.SetSwapDeadline(p.swapDeadline)
	lifecycle.SetInterestBuffer(p.interestBuffer)

	return &engines{
		ledger:    ledger,
		oracle:    prices,
		pool:      pool,
		router:    router,
		collector: collector,
		registry:  registry,
		lifecycle: lifecycle,
	}
}

func requireGenesis(tx *Tx) error {
	applied, err := tx.State.KVGet(genesisKey, nil)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotBootstrapped
	}
	return nil
}

func (p *Protocol) run(ctx context.Context, name string, fn func(*Tx, *engines) error) error {
	return p.exec.Execute(ctx, name, func(tx *Tx) error {
		if err := requireGenesis(tx); err != nil {
			return err
		}
		return fn(tx, p.bind(tx))
	})
}

func (p *Protocol) view(ctx context.Context, fn func(*Tx, *engines) error) error {
	return p.exec.View(ctx, func(tx *Tx) error {
		if err := requireGenesis(tx); err != nil {
			return err
		}
		return fn(tx, p.bind(tx))
	})
}

// spendQuota charges one lifecycle request to caller.
func (p *Protocol) spendQuota(tx *Tx, caller ethcommon.Address) error {
	if p.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	key := append(append([]byte(nil), quotaKeyPrefix...), caller.Bytes()...)
	var prev common.QuotaNow
	if _, err := tx.State.KVGet(key, &prev); err != nil {
		return err
	}
	next, err := common.CheckQuota(p.quota, p.quota.Epoch(tx.Now.Unix()), prev, 1)
	if err != nil {
		return fmt.Errorf("core: %s: %w", caller.Hex(), err)
	}
	return tx.State.KVPut(key, next)
}

func (p *Protocol) loadOwned(tx *Tx, e *engines, caller, addr ethcommon.Address) (position.Position, error) {
	pos, err := e.registry.Get(addr)
	if err != nil {
		return position.Position{}, err
	}
	if err := p.spendQuota(tx, caller); err != nil {
		return position.Position{}, err
	}
	return pos, nil
}

// Bootstrapped reports whether genesis has been applied.
func (p *Protocol) Bootstrapped(ctx context.Context) (bool, error) {
	var applied bool
	err := p.exec.View(ctx, func(tx *Tx) error {
		var err error
		applied, err = tx.State.KVGet(genesisKey, nil)
		return err
	})
	return applied, err
}

// CreatePosition records a new position for owner.
func (p *Protocol) CreatePosition(ctx context.Context, owner, collateral, debtToken, base ethcommon.Address) (position.Position, error) {
	var out position.Position
	err := p.run(ctx, "position.create", func(tx *Tx, e *engines) error {
		if err := p.spendQuota(tx, owner); err != nil {
			return err
		}
		var err error
		out, err = e.registry.Create(owner, collateral, debtToken, base)
		return err
	})
	return out, err
}

// Position loads a recorded position.
func (p *Protocol) Position(ctx context.Context, addr ethcommon.Address) (position.Position, error) {
	var out position.Position
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.registry.Get(addr)
		return err
	})
	return out, err
}

// Positions lists owner's positions.
func (p *Protocol) Positions(ctx context.Context, owner ethcommon.Address) ([]position.Position, error) {
	var out []position.Position
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.registry.ListByOwner(owner)
		return err
	})
	return out, err
}

// Snapshot reads the live balances of a position.
func (p *Protocol) Snapshot(ctx context.Context, addr ethcommon.Address) (position.Snapshot, error) {
	var out position.Snapshot
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		pos, err := e.registry.Get(addr)
		if err != nil {
			return err
		}
		out, err = e.lifecycle.Snapshot(pos)
		return err
	})
	return out, err
}

// Add adds collateral to a position. A non-nil permit is applied first in
// place of a prior approval.
func (p *Protocol) Add(ctx context.Context, caller, addr ethcommon.Address, params position.AddParams, permit *token.Permit) (position.AddResult, error) {
	var out position.AddResult
	err := p.run(ctx, "position.add", func(tx *Tx, e *engines) error {
		pos, err := p.loadOwned(tx, e, caller, addr)
		if err != nil {
			return err
		}
		if permit != nil {
			out, err = e.lifecycle.AddWithPermit(caller, pos, params, *permit)
		} else {
			out, err = e.lifecycle.Add(caller, pos, params)
		}
		return err
	})
	return out, err
}

// AddLeverage draws additional debt against a position.
func (p *Protocol) AddLeverage(ctx context.Context, caller, addr ethcommon.Address, params position.LeverageParams) (position.LeverageResult, error) {
	var out position.LeverageResult
	err := p.run(ctx, "position.leverage", func(tx *Tx, e *engines) error {
		pos, err := p.loadOwned(tx, e, caller, addr)
		if err != nil {
			return err
		}
		out, err = e.lifecycle.AddLeverage(caller, pos, params)
		return err
	})
	return out, err
}

// Close unwinds part or all of a position.
func (p *Protocol) Close(ctx context.Context, caller, addr ethcommon.Address, params position.CloseParams) (position.CloseResult, error) {
	var out position.CloseResult
	err := p.run(ctx, "position.close", func(tx *Tx, e *engines) error {
		pos, err := p.loadOwned(tx, e, caller, addr)
		if err != nil {
			return err
		}
		out, err = e.lifecycle.Close(caller, pos, params)
		return err
	})
	return out, err
}

// SweepPosition returns a stranded token balance of a position to its owner.
func (p *Protocol) SweepPosition(ctx context.Context, caller, addr, tokenAddr ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.run(ctx, "position.sweep", func(tx *Tx, e *engines) error {
		pos, err := p.loadOwned(tx, e, caller, addr)
		if err != nil {
			return err
		}
		out, err = e.lifecycle.Sweep(caller, pos, tokenAddr)
		return err
	})
	return out, err
}

// Approve lets spender move owner's tokens.
func (p *Protocol) Approve(ctx context.Context, tokenAddr, owner, spender ethcommon.Address, amount *uint256.Int) error {
	return p.run(ctx, "token.approve", func(_ *Tx, e *engines) error {
		return e.ledger.Approve(tokenAddr, owner, spender, amount)
	})
}

// Balance returns account's balance of tokenAddr.
func (p *Protocol) Balance(ctx context.Context, tokenAddr, account ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.ledger.BalanceOf(tokenAddr, account)
		return err
	})
	return out, err
}

// Allowance returns what spender may still move on owner's behalf.
func (p *Protocol) Allowance(ctx context.Context, tokenAddr, owner, spender ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.ledger.Allowance(tokenAddr, owner, spender)
		return err
	})
	return out, err
}

// PermitNonce returns the next permit nonce of owner for tokenAddr.
func (p *Protocol) PermitNonce(ctx context.Context, tokenAddr, owner ethcommon.Address) (uint64, error) {
	var out uint64
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.ledger.Nonce(tokenAddr, owner)
		return err
	})
	return out, err
}

// Tokens lists the registered tokens.
func (p *Protocol) Tokens(ctx context.Context) ([]token.Metadata, error) {
	var out []token.Metadata
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.ledger.Tokens()
		return err
	})
	return out, err
}

// Pools lists the swap pools.
func (p *Protocol) Pools(ctx context.Context) ([]swap.Pool, error) {
	var out []swap.Pool
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.router.Pools()
		return err
	})
	return out, err
}

// AccountData reports the lending health of account.
func (p *Protocol) AccountData(ctx context.Context, account ethcommon.Address) (lending.AccountData, error) {
	var out lending.AccountData
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.pool.AccountData(account)
		return err
	})
	return out, err
}

// SetTakeRate records the share of its fee a client keeps.
func (p *Protocol) SetTakeRate(ctx context.Context, client ethcommon.Address, rate uint64) error {
	return p.run(ctx, "fees.take_rate", func(_ *Tx, e *engines) error {
		return e.collector.SetClientTakeRate(client, rate)
	})
}

// CollectFees charges the protocol fee on gross from payer and credits the
// client's share. A zero client collects without a client split.
func (p *Protocol) CollectFees(ctx context.Context, payer, client, tokenAddr ethcommon.Address, gross *uint256.Int) (fees.Receipt, error) {
	var out fees.Receipt
	err := p.run(ctx, "fees.collect", func(tx *Tx, e *engines) error {
		if gross == nil || gross.IsZero() {
			return fmt.Errorf("%w: gross amount must be positive", common.ErrOutOfRange)
		}
		if _, err := e.ledger.Token(tokenAddr); err != nil {
			return err
		}
		if err := p.spendQuota(tx, payer); err != nil {
			return err
		}
		var err error
		out, err = e.collector.CollectFees(payer, client, tokenAddr, gross)
		return err
	})
	return out, err
}

// ClientWithdraw pays out the client's balance in tokenAddr.
func (p *Protocol) ClientWithdraw(ctx context.Context, client, tokenAddr ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.run(ctx, "fees.withdraw", func(_ *Tx, e *engines) error {
		var err error
		out, err = e.collector.ClientWithdraw(client, tokenAddr)
		return err
	})
	return out, err
}

// ClientAllocations previews the split of maxFee for client.
func (p *Protocol) ClientAllocations(ctx context.Context, client ethcommon.Address, maxFee *uint256.Int) (userSavings, clientFee *uint256.Int, err error) {
	err = p.view(ctx, func(_ *Tx, e *engines) error {
		var innerErr error
		userSavings, clientFee, innerErr = e.collector.ClientAllocations(client, maxFee)
		return innerErr
	})
	return userSavings, clientFee, err
}

// FeeBalance returns what the collector owes client in tokenAddr.
func (p *Protocol) FeeBalance(ctx context.Context, client, tokenAddr ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.collector.Balance(client, tokenAddr)
		return err
	})
	return out, err
}

// FeeSettings returns the collector settings.
func (p *Protocol) FeeSettings(ctx context.Context) (fees.Settings, error) {
	var out fees.Settings
	err := p.view(ctx, func(_ *Tx, e *engines) error {
		var err error
		out, err = e.collector.Settings()
		return err
	})
	return out, err
}

// SetClientRate updates the global client rate. Owner only.
func (p *Protocol) SetClientRate(ctx context.Context, caller ethcommon.Address, rate uint64) error {
	return p.run(ctx, "fees.client_rate", func(_ *Tx, e *engines) error {
		return e.collector.SetClientRate(caller, rate)
	})
}

// SetProtocolFeeRate updates the permille charged on gross amounts. Owner only.
func (p *Protocol) SetProtocolFeeRate(ctx context.Context, caller ethcommon.Address, permille uint64) error {
	return p.run(ctx, "fees.protocol_rate", func(_ *Tx, e *engines) error {
		return e.collector.SetProtocolFeeRate(caller, permille)
	})
}

// SweepFees sends protocol revenue in tokenAddr to the owner. Owner only.
func (p *Protocol) SweepFees(ctx context.Context, caller, tokenAddr ethcommon.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.run(ctx, "fees.sweep", func(_ *Tx, e *engines) error {
		var err error
		out, err = e.collector.Sweep(caller, tokenAddr)
		return err
	})
	return out, err
}

// SetPrice posts an oracle price. Owner only.
func (p *Protocol) SetPrice(ctx context.Context, caller, tokenAddr ethcommon.Address, price *uint256.Int, source string) error {
	return p.run(ctx, "oracle.set_price", func(_ *Tx, e *engines) error {
		if err := common.RequireOwner(caller, p.owner); err != nil {
			return err
		}
		if _, err := e.ledger.Token(tokenAddr); err != nil {
			return err
		}
		if strings.TrimSpace(source) == "" {
			source = "admin"
		}
		return e.oracle.SetPrice(tokenAddr, price, source)
	})
}
