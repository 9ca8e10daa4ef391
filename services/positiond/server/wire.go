package server

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/lending"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/position"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/swap"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
)

// amountMax is accepted wherever an amount may mean "everything".
const amountMax = "max"

type createPositionRequest struct {
	CollateralToken string `json:"collateralToken"`
	DebtToken       string `json:"debtToken"`
	BaseToken       string `json:"baseToken"`
}

type permitRequest struct {
	Value     string `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

type addRequest struct {
	CollateralAmount string         `json:"collateralAmount"`
	LTV              uint64         `json:"ltv"`
	SwapAmountOutMin string         `json:"swapAmountOutMin"`
	PoolFee          uint32         `json:"poolFee"`
	Client           string         `json:"client"`
	Permit           *permitRequest `json:"permit,omitempty"`
}

type leverageRequest struct {
	DebtAmount       string `json:"debtAmount"`
	SwapAmountOutMin string `json:"swapAmountOutMin"`
	PoolFee          uint32 `json:"poolFee"`
	Client           string `json:"client"`
}

type closeRequest struct {
	BaseAmount       string `json:"baseAmount"`
	CollateralAmount string `json:"collateralAmount"`
	PoolFee          uint32 `json:"poolFee"`
	ExactOutput      bool   `json:"exactOutput"`
	SwapAmountOutMin string `json:"swapAmountOutMin"`
}

type collectRequest struct {
	Token  string `json:"token"`
	Client string `json:"client"`
	Gross  string `json:"gross"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type approveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type rateRequest struct {
	Rate uint64 `json:"rate"`
}

type priceRequest struct {
	Token string `json:"token"`
	// Price is in oracle units (8 decimals).
	Price  string `json:"price"`
	Source string `json:"source"`
}

type positionJSON struct {
	Address            string `json:"address"`
	Owner              string `json:"owner"`
	CollateralToken    string `json:"collateralToken"`
	CollateralDecimals uint8  `json:"collateralDecimals"`
	DebtToken          string `json:"debtToken"`
	DebtDecimals       uint8  `json:"debtDecimals"`
	BaseToken          string `json:"baseToken"`
	BaseDecimals       uint8  `json:"baseDecimals"`
	CreatedAt          uint64 `json:"createdAt"`
}

type snapshotJSON struct {
	positionJSON
	Collateral  string `json:"collateral"`
	Base        string `json:"base"`
	Debt        string `json:"debt"`
	PendingBase string `json:"pendingBase"`
}

type receiptJSON struct {
	Gross       string `json:"gross"`
	Net         string `json:"net"`
	MaxFee      string `json:"maxFee"`
	ProtocolFee string `json:"protocolFee"`
	ClientFee   string `json:"clientFee"`
	UserSavings string `json:"userSavings"`
}

type addResponse struct {
	Collateral string      `json:"collateral"`
	Debt       string      `json:"debt"`
	Base       string      `json:"base"`
	Fees       receiptJSON `json:"fees"`
}

type leverageResponse struct {
	Debt string      `json:"debt"`
	Base string      `json:"base"`
	Fees receiptJSON `json:"fees"`
}

type closeResponse struct {
	BaseWithdrawn       string `json:"baseWithdrawn"`
	SwapIn              string `json:"swapIn"`
	SwapOut             string `json:"swapOut"`
	Repaid              string `json:"repaid"`
	Gains               string `json:"gains"`
	CollateralWithdrawn string `json:"collateralWithdrawn"`
	RemainingDebt       string `json:"remainingDebt"`
}

type tokenJSON struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type poolJSON struct {
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Fee      uint32 `json:"fee"`
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
}

type accountJSON struct {
	TotalCollateralUSD     string `json:"totalCollateralUsd"`
	TotalDebtUSD           string `json:"totalDebtUsd"`
	BorrowCapacityUSD      string `json:"borrowCapacityUsd"`
	LiquidationCapacityUSD string `json:"liquidationCapacityUsd"`
	HealthFactor           string `json:"healthFactor"`
	Healthy                bool   `json:"healthy"`
}

type settingsJSON struct {
	Owner                   string `json:"owner"`
	ProtocolFeeRatePermille uint64 `json:"protocolFeeRatePermille"`
	ClientRate              uint64 `json:"clientRate"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func amountString(v *uint256.Int) string {
	return common.OrZero(v).Dec()
}

func parseAddress(field, raw string) (ethcommon.Address, error) {
	raw = strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, fmt.Errorf("%w: %s must be a hex address", common.ErrOutOfRange, field)
	}
	return ethcommon.HexToAddress(raw), nil
}

// parseOptionalAddress treats an empty value as the zero address.
func parseOptionalAddress(field, raw string) (ethcommon.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return ethcommon.Address{}, nil
	}
	return parseAddress(field, raw)
}

// parseAmount decodes a base unit amount. Empty yields zero; "max" yields
// max when it is non-nil.
func parseAmount(field, raw string, max *uint256.Int) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return common.Zero(), nil
	case strings.EqualFold(raw, amountMax) && max != nil:
		return common.Clone(max), nil
	}
	v, err := common.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func (r addRequest) params() (position.AddParams, error) {
	amount, err := parseAmount("collateralAmount", r.CollateralAmount, nil)
	if err != nil {
		return position.AddParams{}, err
	}
	minOut, err := parseAmount("swapAmountOutMin", r.SwapAmountOutMin, nil)
	if err != nil {
		return position.AddParams{}, err
	}
	client, err := parseOptionalAddress("client", r.Client)
	if err != nil {
		return position.AddParams{}, err
	}
	return position.AddParams{
		CollateralAmount: amount,
		LTV:              r.LTV,
		SwapAmountOutMin: minOut,
		PoolFee:          poolFeeOrDefault(r.PoolFee),
		Client:           client,
	}, nil
}

// permit builds the signed approval letting the position pull the
// collateral from owner.
func (r addRequest) permit(owner ethcommon.Address, pos position.Position) (*token.Permit, error) {
	if r.Permit == nil {
		return nil, nil
	}
	value, err := parseAmount("permit.value", r.Permit.Value, token.MaxAllowance)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(strings.TrimSpace(r.Permit.Signature))
	if err != nil {
		return nil, fmt.Errorf("%w: permit.signature: %v", common.ErrOutOfRange, err)
	}
	return &token.Permit{
		Token:     pos.CollateralToken,
		Owner:     owner,
		Spender:   pos.Address,
		Value:     value,
		Nonce:     r.Permit.Nonce,
		Deadline:  r.Permit.Deadline,
		Signature: sig,
	}, nil
}

func (r leverageRequest) params() (position.LeverageParams, error) {
	amount, err := parseAmount("debtAmount", r.DebtAmount, nil)
	if err != nil {
		return position.LeverageParams{}, err
	}
	minOut, err := parseAmount("swapAmountOutMin", r.SwapAmountOutMin, nil)
	if err != nil {
		return position.LeverageParams{}, err
	}
	client, err := parseOptionalAddress("client", r.Client)
	if err != nil {
		return position.LeverageParams{}, err
	}
	return position.LeverageParams{
		DebtAmount:       amount,
		SwapAmountOutMin: minOut,
		PoolFee:          poolFeeOrDefault(r.PoolFee),
		Client:           client,
	}, nil
}

func (r closeRequest) params() (position.CloseParams, error) {
	base, err := parseAmount("baseAmount", r.BaseAmount, lending.MaxAmount)
	if err != nil {
		return position.CloseParams{}, err
	}
	collateral, err := parseAmount("collateralAmount", r.CollateralAmount, lending.MaxAmount)
	if err != nil {
		return position.CloseParams{}, err
	}
	minOut, err := parseAmount("swapAmountOutMin", r.SwapAmountOutMin, nil)
	if err != nil {
		return position.CloseParams{}, err
	}
	return position.CloseParams{
		BaseAmount:       base,
		CollateralAmount: collateral,
		PoolFee:          poolFeeOrDefault(r.PoolFee),
		ExactOutput:      r.ExactOutput,
		SwapAmountOutMin: minOut,
	}, nil
}

func poolFeeOrDefault(fee uint32) uint32 {
	if fee == 0 {
		return swap.FeeMedium
	}
	return fee
}

func toPositionJSON(p position.Position) positionJSON {
	return positionJSON{
		Address:            p.Address.Hex(),
		Owner:              p.Owner.Hex(),
		CollateralToken:    p.CollateralToken.Hex(),
		CollateralDecimals: p.CollateralDecimals,
		DebtToken:          p.DebtToken.Hex(),
		DebtDecimals:       p.DebtDecimals,
		BaseToken:          p.BaseToken.Hex(),
		BaseDecimals:       p.BaseDecimals,
		CreatedAt:          p.CreatedAt,
	}
}

func toSnapshotJSON(s position.Snapshot) snapshotJSON {
	return snapshotJSON{
		positionJSON: toPositionJSON(s.Position),
		Collateral:   amountString(s.Collateral),
		Base:         amountString(s.Base),
		Debt:         amountString(s.Debt),
		PendingBase:  amountString(s.PendingBase),
	}
}

func toReceiptJSON(r fees.Receipt) receiptJSON {
	return receiptJSON{
		Gross:       amountString(r.Gross),
		Net:         amountString(r.Net),
		MaxFee:      amountString(r.MaxFee),
		ProtocolFee: amountString(r.ProtocolFee),
		ClientFee:   amountString(r.ClientFee),
		UserSavings: amountString(r.UserSavings),
	}
}

func toAccountJSON(d lending.AccountData) accountJSON {
	return accountJSON{
		TotalCollateralUSD:     amountString(d.TotalCollateralUSD),
		TotalDebtUSD:           amountString(d.TotalDebtUSD),
		BorrowCapacityUSD:      amountString(d.BorrowCapacityUSD),
		LiquidationCapacityUSD: amountString(d.LiquidationCapacityUSD),
		HealthFactor:           amountString(d.HealthFactor),
		Healthy:                d.Healthy(),
	}
}
