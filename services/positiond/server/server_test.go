package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chainrule-labs/pesto-contracts-sub000/config"
	"github.com/chainrule-labs/pesto-contracts-sub000/core"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/position"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/audit"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/middleware"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

const (
	testSecret = "positiond-test-secret"
	usdcHex    = "0x00000000000000000000000000000000000000A1"
	wethHex    = "0x00000000000000000000000000000000000000A2"
	daiHex     = "0x00000000000000000000000000000000000000A3"
)

var (
	owner   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c5")
	mallory = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c6")
)

const protocolConfig = `
Owner = "0x00000000000000000000000000000000000000c1"
LiquidityProvider = "0x00000000000000000000000000000000000000c3"
ProtocolFeeRatePermille = 3

[[Tokens]]
Symbol = "USDC"
Address = "0x00000000000000000000000000000000000000a1"
Decimals = 6
PriceUSD = "1"
LTVBps = 8000
LiquidationThresholdBps = 8500

[[Tokens]]
Symbol = "WETH"
Address = "0x00000000000000000000000000000000000000a2"
Decimals = 18
PriceUSD = "2000"
LTVBps = 7500
LiquidationThresholdBps = 8000

[[Tokens]]
Symbol = "DAI"
Address = "0x00000000000000000000000000000000000000a3"
Decimals = 18
PriceUSD = "1"
LTVBps = 7500
LiquidationThresholdBps = 8000

[[Pools]]
TokenA = "WETH"
TokenB = "DAI"
Fee = 3000
ReserveA = "1000"
ReserveB = "2000000"

[[Pools]]
TokenA = "WETH"
TokenB = "USDC"
Fee = 3000
ReserveA = "1000"
ReserveB = "2000000"

[[Genesis]]
Account = "0x00000000000000000000000000000000000000c2"
Token = "WETH"
Amount = "100"
Supply = true

[[Genesis]]
Account = "0x00000000000000000000000000000000000000c5"
Token = "USDC"
Amount = "10000"
`

type testServer struct {
	http  *httptest.Server
	hub   *Hub
	audit *audit.Indexer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := config.Parse(protocolConfig)
	require.NoError(t, err)

	db, err := audit.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	indexer, err := audit.NewIndexer(db, nil)
	require.NoError(t, err)
	hub := NewHub(nil)

	exec := core.NewExecutor(storage.NewMemDB())
	exec.SetEmitter(events.Fanout{indexer, hub})
	protocol, err := core.NewProtocol(exec, cfg)
	require.NoError(t, err)
	require.NoError(t, protocol.Genesis(context.Background(), cfg))

	srv, err := New(protocol, indexer, hub, Options{
		Auth:      middleware.AuthConfig{HMACSecret: testSecret},
		RateLimit: middleware.RateLimit{RequestsPerMinute: 6000, Burst: 100},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{http: ts, hub: hub, audit: indexer}
}

func bearer(t *testing.T, who ethcommon.Address, scopes ...string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, who, "", scopes, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (ts *testServer) do(t *testing.T, method, path, auth string, body interface{}, out interface{}) int {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &payload)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) openPosition(t *testing.T) positionJSON {
	t.Helper()
	var pos positionJSON
	status := ts.do(t, http.MethodPost, "/v1/positions", bearer(t, alice), createPositionRequest{
		CollateralToken: usdcHex, DebtToken: wethHex, BaseToken: daiHex,
	}, &pos)
	require.Equal(t, http.StatusCreated, status)
	status = ts.do(t, http.MethodPost, "/v1/tokens/approve", bearer(t, alice), approveRequest{
		Token: usdcHex, Spender: pos.Address, Amount: "max",
	}, nil)
	require.Equal(t, http.StatusOK, status)
	return pos
}

func TestHealthAndAuth(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil, nil))
	require.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/v1/tokens", "", nil, nil))

	var tokens []tokenJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/tokens", bearer(t, alice), nil, &tokens))
	require.Len(t, tokens, 3)
}

func TestPositionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	pos := ts.openPosition(t)
	require.Equal(t, alice.Hex(), pos.Owner)

	var added addResponse
	status := ts.do(t, http.MethodPost, "/v1/positions/"+pos.Address+"/add", bearer(t, alice), addRequest{
		CollateralAmount: "1000000000", LTV: 50, SwapAmountOutMin: "1",
	}, &added)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "249250000000000000", added.Debt)
	require.Equal(t, "3000000", added.Fees.ProtocolFee)

	var snap snapshotJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/positions/"+pos.Address, bearer(t, alice), nil, &snap))
	require.Equal(t, added.Debt, snap.Debt)

	var closed closeResponse
	status = ts.do(t, http.MethodPost, "/v1/positions/"+pos.Address+"/close", bearer(t, alice), closeRequest{
		BaseAmount: "max", SwapAmountOutMin: "1",
	}, &closed)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, added.Base, closed.BaseWithdrawn)

	var records []map[string]interface{}
	status = ts.do(t, http.MethodGet, "/v1/audit?position="+pos.Address, bearer(t, alice), nil, &records)
	require.Equal(t, http.StatusOK, status)
	kinds := make([]string, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec["type"].(string))
	}
	require.Contains(t, kinds, events.TypePositionCreated)
	require.Contains(t, kinds, events.TypePositionAdded)
	require.Contains(t, kinds, events.TypePositionClosed)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	pos := ts.openPosition(t)
	path := "/v1/positions/" + pos.Address + "/add"

	var body errorBody
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path, bearer(t, alice), addRequest{CollateralAmount: "1000000", LTV: 0}, &body))
	require.Equal(t, "out_of_range", body.Error)
	require.NotEmpty(t, body.RequestID)

	require.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, path, bearer(t, mallory), addRequest{CollateralAmount: "1000000", LTV: 50}, nil))

	require.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, path, bearer(t, alice), addRequest{
		CollateralAmount: "1000000000", LTV: 50, SwapAmountOutMin: "1000000000000000000000000",
	}, &body))
	require.Equal(t, "insufficient_output", body.Error)

	var raw map[string]interface{}
	require.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, path, bearer(t, alice), addRequest{
		CollateralAmount: "1000000000", LTV: 50, SwapAmountOutMin: "1000000000000000000000000",
	}, &raw))
	require.Equal(t, false, raw["committed"])

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/positions/"+pos.Address+"/leverage", bearer(t, alice), leverageRequest{DebtAmount: "1000"}, &body))
	require.Equal(t, "token_conflict", body.Error)

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/positions", bearer(t, alice), createPositionRequest{
		CollateralToken: usdcHex, DebtToken: usdcHex, BaseToken: daiHex,
	}, nil))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/positions/"+mallory.Hex(), bearer(t, alice), nil, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/positions/not-an-address", bearer(t, alice), nil, nil))
}

func TestAdminRoutesNeedScopeAndOwnership(t *testing.T) {
	ts := newTestServer(t)
	req := priceRequest{Token: wethHex, Price: "210000000000"}
	require.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/admin/oracle/price", bearer(t, owner), req, nil))
	require.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/admin/oracle/price", bearer(t, mallory, middleware.ScopeAdmin), req, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/admin/oracle/price", bearer(t, owner, middleware.ScopeAdmin), req, nil))

	admin := bearer(t, owner, middleware.ScopeAdmin)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/admin/fees/protocol-rate", admin, rateRequest{Rate: 0}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/admin/fees/protocol-rate", admin, rateRequest{Rate: 5}, nil))
	var settings settingsJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/fees/settings", bearer(t, alice), nil, &settings))
	require.Equal(t, uint64(5), settings.ProtocolFeeRatePermille)
}

func TestClientFeeRoutes(t *testing.T) {
	ts := newTestServer(t)
	client := ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/fees/take-rate", bearer(t, client), rateRequest{Rate: 50}, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/fees/take-rate", bearer(t, client), rateRequest{Rate: 101}, nil))

	var alloc map[string]string
	status := ts.do(t, http.MethodGet, "/v1/fees/allocations?client="+client.Hex()+"&maxFee=100", bearer(t, alice), nil, &alloc)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "15", alloc["userSavings"])
	require.Equal(t, "15", alloc["clientFee"])

	var owed amountResponse
	status = ts.do(t, http.MethodGet, "/v1/fees/balances/"+client.Hex()+"/"+usdcHex, bearer(t, client), nil, &owed)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "0", owed.Amount)
}

func TestCollectFeesRoute(t *testing.T) {
	ts := newTestServer(t)
	client := ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/fees/take-rate", bearer(t, client), rateRequest{Rate: 50}, nil))

	var receipt receiptJSON
	status := ts.do(t, http.MethodPost, "/v1/fees/collect", bearer(t, alice),
		collectRequest{Token: usdcHex, Client: client.Hex(), Gross: "1000000"}, &receipt)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "3000", receipt.MaxFee)
	require.Equal(t, "2550", receipt.ProtocolFee)
	require.Equal(t, "450", receipt.ClientFee)

	status = ts.do(t, http.MethodPost, "/v1/fees/collect", bearer(t, alice),
		collectRequest{Token: usdcHex, Gross: "1000000"}, &receipt)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "3000", receipt.ProtocolFee)
	require.Equal(t, "0", receipt.ClientFee)

	var body errorBody
	status = ts.do(t, http.MethodPost, "/v1/fees/collect", bearer(t, mallory),
		collectRequest{Token: usdcHex, Client: client.Hex(), Gross: "1000000"}, &body)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.False(t, body.Committed)

	var owed amountResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/fees/balances/"+client.Hex()+"/"+usdcHex, bearer(t, client), nil, &owed))
	require.Equal(t, "450", owed.Amount)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/fees/collect", bearer(t, alice),
		collectRequest{Token: usdcHex, Gross: "0"}, nil))
}

func TestEventStreamDeliversCommittedRecords(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{bearer(t, alice)}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return ts.hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	pos := ts.openPosition(t)
	var ev types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	require.Equal(t, events.TypePositionCreated, ev.Type)
	require.Equal(t, pos.Address, ev.Attributes["position"])
}

func TestStatusForClassifiesRoots(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", common.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("x: %w", common.ErrOutOfRange), http.StatusBadRequest},
		{fmt.Errorf("x: %w", common.ErrTokenConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", common.ErrInsufficientOutput), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", common.ErrArithmetic), http.StatusUnprocessableEntity},
		{position.ErrPositionNotFound, http.StatusNotFound},
		{common.ErrModulePaused, http.StatusServiceUnavailable},
		{common.ErrQuotaRequestsExceeded, http.StatusTooManyRequests},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
	}
}
