package fees

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

var (
	errNilState = errors.New("fee collector: state not configured")

	ErrNotInitialised  = errors.New("fee collector: settings not initialised")
	ErrAlreadyInit     = errors.New("fee collector: settings already initialised")
	ErrZeroOwner       = fmt.Errorf("fee collector: owner required: %w", common.ErrUnauthorized)
	ErrLedgerInsolvent = errors.New("fee collector: client balances exceed holdings")
)

const moduleName = "fees"

// TokenLedger moves fee tokens in and out of the collector account.
type TokenLedger interface {
	Transfer(token, from, to ethcommon.Address, amount *uint256.Int) error
	BalanceOf(token, account ethcommon.Address) (*uint256.Int, error)
}

type collectorState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVGetAmount(key []byte) (*uint256.Int, error)
	KVPutAmount(key []byte, amount *uint256.Int) error
}

// Settings holds the owner controlled fee parameters.
type Settings struct {
	Owner                   ethcommon.Address
	ProtocolFeeRatePermille uint64
	ClientRate              uint64
}

// Validate checks the settings are within their configured ranges.
func (s Settings) Validate() error {
	if s.Owner == (ethcommon.Address{}) {
		return ErrZeroOwner
	}
	if err := ValidateProtocolFeeRate(s.ProtocolFeeRatePermille); err != nil {
		return err
	}
	return ValidateClientRate(s.ClientRate)
}

// Receipt reports the outcome of a fee collection.
type Receipt struct {
	Allocation
	Gross *uint256.Int
	// Net is what remains with the payer: Gross less ProtocolFee.
	Net *uint256.Int
}

// Collector is the fee ledger. Collected tokens are held by the collector
// address in the token ledger; the ledger tracks how much of that holding is
// owed to each client.
type Collector struct {
	state   collectorState
	ledger  TokenLedger
	address ethcommon.Address
	emitter events.Emitter
	pauses  common.PauseView
}

// NewCollector constructs a collector holding fees at address.
func NewCollector(address ethcommon.Address, ledger TokenLedger) *Collector {
	return &Collector{ledger: ledger, address: address, emitter: events.NoopEmitter{}}
}

func (c *Collector) SetState(state collectorState) { c.state = state }

func (c *Collector) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

func (c *Collector) SetPauses(view common.PauseView) { c.pauses = view }

// Address returns the account holding collected fees.
func (c *Collector) Address() ethcommon.Address { return c.address }

func (c *Collector) ready() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	return nil
}

// Init records the initial settings. The owner is an explicit argument so
// the deploying account never becomes owner implicitly.
func (c *Collector) Init(settings Settings) error {
	if err := c.ready(); err != nil {
		return err
	}
	if settings.ClientRate == 0 {
		settings.ClientRate = DefaultClientRate
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	ok, err := c.state.KVGet(settingsKey, nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInit
	}
	return c.state.KVPut(settingsKey, settings)
}

// Settings returns the stored settings.
func (c *Collector) Settings() (Settings, error) {
	if err := c.ready(); err != nil {
		return Settings{}, err
	}
	var settings Settings
	ok, err := c.state.KVGet(settingsKey, &settings)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return Settings{}, ErrNotInitialised
	}
	return settings, nil
}

// TakeRate returns the client's take rate in percent. Clients that never set
// one take nothing.
func (c *Collector) TakeRate(client ethcommon.Address) (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var rate uint64
	if _, err := c.state.KVGet(takeRateKey(client), &rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// Quote computes the fee split for gross without moving funds.
func (c *Collector) Quote(client ethcommon.Address, gross *uint256.Int) (Allocation, error) {
	settings, err := c.Settings()
	if err != nil {
		return Allocation{}, err
	}
	hasClient := client != (ethcommon.Address{})
	var take uint64
	if hasClient {
		if take, err = c.TakeRate(client); err != nil {
			return Allocation{}, err
		}
	}
	return Split(gross, settings.ProtocolFeeRatePermille, take, settings.ClientRate, hasClient)
}

// CollectFees charges the protocol fee on gross to payer and credits the
// client's share. A zero client sends the whole maximum fee to the protocol
// and touches no client balance.
func (c *Collector) CollectFees(payer, client, token ethcommon.Address, gross *uint256.Int) (Receipt, error) {
	if err := c.ready(); err != nil {
		return Receipt{}, err
	}
	if err := common.Guard(c.pauses, moduleName); err != nil {
		return Receipt{}, err
	}
	gross = common.OrZero(gross)
	alloc, err := c.Quote(client, gross)
	if err != nil {
		return Receipt{}, err
	}
	net, err := common.Sub(gross, alloc.ProtocolFee)
	if err != nil {
		return Receipt{}, err
	}
	if !alloc.ProtocolFee.IsZero() {
		if err := c.ledger.Transfer(token, payer, c.address, alloc.ProtocolFee); err != nil {
			return Receipt{}, err
		}
	}
	if client != (ethcommon.Address{}) && !alloc.ClientFee.IsZero() {
		if err := c.credit(client, token, alloc.ClientFee); err != nil {
			return Receipt{}, err
		}
	}
	c.emitter.Emit(events.FeesCollected{
		Payer:       payer,
		Client:      client,
		Token:       token,
		Gross:       common.Clone(gross),
		MaxFee:      common.Clone(alloc.MaxFee),
		ProtocolFee: common.Clone(alloc.ProtocolFee),
		ClientFee:   common.Clone(alloc.ClientFee),
		UserSavings: common.Clone(alloc.UserSavings),
	})
	return Receipt{Allocation: alloc, Gross: common.Clone(gross), Net: net}, nil
}

func (c *Collector) credit(client, token ethcommon.Address, amount *uint256.Int) error {
	balance, err := c.state.KVGetAmount(clientBalanceKey(client, token))
	if err != nil {
		return err
	}
	total, err := c.state.KVGetAmount(clientTotalKey(token))
	if err != nil {
		return err
	}
	if balance, err = common.Add(balance, amount); err != nil {
		return err
	}
	if total, err = common.Add(total, amount); err != nil {
		return err
	}
	if err := c.state.KVPutAmount(clientBalanceKey(client, token), balance); err != nil {
		return err
	}
	if err := c.state.KVPutAmount(clientTotalKey(token), total); err != nil {
		return err
	}
	return c.state.KVAppend(clientTokensKey(client), token.Bytes())
}

// ClientWithdraw pays out the client's whole balance in token, zeroing the
// client entry and decrementing the aggregate with the transfer.
func (c *Collector) ClientWithdraw(client, token ethcommon.Address) (*uint256.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	balance, err := c.state.KVGetAmount(clientBalanceKey(client, token))
	if err != nil {
		return nil, err
	}
	if balance.IsZero() {
		return balance, nil
	}
	total, err := c.state.KVGetAmount(clientTotalKey(token))
	if err != nil {
		return nil, err
	}
	remaining, err := common.Sub(total, balance)
	if err != nil {
		return nil, err
	}
	if err := c.state.KVPutAmount(clientBalanceKey(client, token), nil); err != nil {
		return nil, err
	}
	if err := c.state.KVPutAmount(clientTotalKey(token), remaining); err != nil {
		return nil, err
	}
	if err := c.ledger.Transfer(token, c.address, client, balance); err != nil {
		return nil, err
	}
	c.emitter.Emit(events.ClientWithdrawal{Client: client, Token: token, Amount: common.Clone(balance)})
	return balance, nil
}

// SetClientTakeRate lets a client choose how much of its share it keeps.
func (c *Collector) SetClientTakeRate(client ethcommon.Address, rate uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	if client == (ethcommon.Address{}) {
		return fmt.Errorf("%w: zero client", common.ErrUnauthorized)
	}
	if err := ValidateTakeRate(rate); err != nil {
		return err
	}
	if err := c.state.KVPut(takeRateKey(client), rate); err != nil {
		return err
	}
	c.emitter.Emit(events.TakeRateUpdated{Client: client, Rate: rate})
	return nil
}

// SetClientRate updates the global client rate. Owner only.
func (c *Collector) SetClientRate(caller ethcommon.Address, rate uint64) error {
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if err := common.RequireOwner(caller, settings.Owner); err != nil {
		return err
	}
	if err := ValidateClientRate(rate); err != nil {
		return err
	}
	previous := settings.ClientRate
	settings.ClientRate = rate
	if err := c.state.KVPut(settingsKey, settings); err != nil {
		return err
	}
	c.emitter.Emit(events.ClientRateUpdated{Previous: previous, Rate: rate})
	return nil
}

// SetProtocolFeeRate updates the protocol fee rate. Owner only.
func (c *Collector) SetProtocolFeeRate(caller ethcommon.Address, permille uint64) error {
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if err := common.RequireOwner(caller, settings.Owner); err != nil {
		return err
	}
	if err := ValidateProtocolFeeRate(permille); err != nil {
		return err
	}
	settings.ProtocolFeeRatePermille = permille
	return c.state.KVPut(settingsKey, settings)
}

// ClientAllocations returns what the client's users save and what the client
// earns on maxFee at the current rates.
func (c *Collector) ClientAllocations(client ethcommon.Address, maxFee *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	settings, err := c.Settings()
	if err != nil {
		return nil, nil, err
	}
	take, err := c.TakeRate(client)
	if err != nil {
		return nil, nil, err
	}
	alloc, err := Allocate(maxFee, take, settings.ClientRate)
	if err != nil {
		return nil, nil, err
	}
	return alloc.UserSavings, alloc.ClientFee, nil
}

// Sweep sends the protocol's revenue in token to the owner. Client balances
// are never touched. The swept amount is returned.
func (c *Collector) Sweep(caller, token ethcommon.Address) (*uint256.Int, error) {
	settings, err := c.Settings()
	if err != nil {
		return nil, err
	}
	if err := common.RequireOwner(caller, settings.Owner); err != nil {
		return nil, err
	}
	revenue, err := c.Revenue(token)
	if err != nil {
		return nil, err
	}
	if revenue.IsZero() {
		return revenue, nil
	}
	if err := c.ledger.Transfer(token, c.address, settings.Owner, revenue); err != nil {
		return nil, err
	}
	c.emitter.Emit(events.FeesSwept{Token: token, Recipient: settings.Owner, Amount: common.Clone(revenue)})
	return revenue, nil
}

// Revenue is the collector holding in token not owed to any client.
func (c *Collector) Revenue(token ethcommon.Address) (*uint256.Int, error) {
	held, total, err := c.holdings(token)
	if err != nil {
		return nil, err
	}
	revenue, err := common.Sub(held, total)
	if err != nil {
		return nil, fmt.Errorf("%w: owes %s, holds %s", ErrLedgerInsolvent, total.Dec(), held.Dec())
	}
	return revenue, nil
}

// Balance returns what the collector owes client in token.
func (c *Collector) Balance(client, token ethcommon.Address) (*uint256.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.state.KVGetAmount(clientBalanceKey(client, token))
}

// ClientTokens lists every token the client was ever credited in.
func (c *Collector) ClientTokens(client ethcommon.Address) ([]ethcommon.Address, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := c.state.KVGetList(clientTokensKey(client), &raw); err != nil {
		return nil, err
	}
	out := make([]ethcommon.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, ethcommon.BytesToAddress(b))
	}
	return out, nil
}

// TotalClientBalance returns what the collector owes all clients in token.
func (c *Collector) TotalClientBalance(token ethcommon.Address) (*uint256.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.state.KVGetAmount(clientTotalKey(token))
}

// CheckInvariant verifies the collector holds at least what it owes.
func (c *Collector) CheckInvariant(token ethcommon.Address) error {
	_, err := c.Revenue(token)
	return err
}

func (c *Collector) holdings(token ethcommon.Address) (*uint256.Int, *uint256.Int, error) {
	if err := c.ready(); err != nil {
		return nil, nil, err
	}
	held, err := c.ledger.BalanceOf(token, c.address)
	if err != nil {
		return nil, nil, err
	}
	total, err := c.state.KVGetAmount(clientTotalKey(token))
	if err != nil {
		return nil, nil, err
	}
	return held, total, nil
}
