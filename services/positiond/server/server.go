package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chainrule-labs/pesto-contracts-sub000/core"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/audit"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/middleware"
)

const (
	moduleName   = "positiond"
	maxBodyBytes = 1 << 20
)

// Options configures the HTTP surface.
type Options struct {
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig
	Logger    *slog.Logger
}

// Server exposes the protocol over HTTP.
type Server struct {
	protocol *core.Protocol
	audit    *audit.Indexer
	hub      *Hub
	logger   *slog.Logger
	router   http.Handler
}

// New wires the routes. indexer and hub may be nil, which disables the audit
// query and the event stream.
func New(protocol *core.Protocol, indexer *audit.Indexer, hub *Hub, opts Options) (*Server, error) {
	if protocol == nil {
		return nil, errors.New("positiond: protocol required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{protocol: protocol, audit: indexer, hub: hub, logger: logger}
	s.router = s.buildRouter(opts)
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, moduleName)
}

func (s *Server) buildRouter(opts Options) http.Handler {
	auth := middleware.NewAuthenticator(opts.Auth, s.logger)
	limiter := middleware.NewRateLimiter(opts.RateLimit)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(opts.CORS))
	r.Use(middleware.Observe(moduleName, s.logger))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(auth.Middleware())
		api.Use(limiter.Middleware(moduleName))

		api.Post("/positions", s.createPosition)
		api.Get("/positions", s.listPositions)
		api.Get("/positions/{address}", s.getPosition)
		api.Post("/positions/{address}/add", s.addCollateral)
		api.Post("/positions/{address}/leverage", s.addLeverage)
		api.Post("/positions/{address}/close", s.closePosition)
		api.Post("/positions/{address}/sweep", s.sweepPosition)

		api.Get("/tokens", s.listTokens)
		api.Post("/tokens/approve", s.approve)
		api.Get("/tokens/{token}/balance/{account}", s.balance)
		api.Get("/tokens/{token}/allowance/{owner}/{spender}", s.allowance)
		api.Get("/tokens/{token}/nonce/{owner}", s.permitNonce)

		api.Get("/pools", s.listPools)
		api.Get("/accounts/{account}", s.accountData)

		api.Get("/fees/settings", s.feeSettings)
		api.Post("/fees/take-rate", s.setTakeRate)
		api.Post("/fees/collect", s.collectFees)
		api.Post("/fees/withdraw", s.clientWithdraw)
		api.Get("/fees/allocations", s.clientAllocations)
		api.Get("/fees/balances/{client}/{token}", s.feeBalance)

		api.Get("/audit", s.listAudit)
		if s.hub != nil {
			api.Handle("/events", s.hub)
		}

		api.Group(func(admin chi.Router) {
			admin.Use(auth.Middleware(middleware.ScopeAdmin))
			admin.Post("/admin/fees/client-rate", s.setClientRate)
			admin.Post("/admin/fees/protocol-rate", s.setProtocolFeeRate)
			admin.Post("/admin/fees/sweep", s.sweepFees)
			admin.Post("/admin/oracle/price", s.setPrice)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ready, err := s.protocol.Bootstrapped(r.Context())
	if err != nil || !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createPosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if !decode(w, r, &req) {
		return
	}
	collateral, err := parseAddress("collateralToken", req.CollateralToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	debtToken, err := parseAddress("debtToken", req.DebtToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	base, err := parseAddress("baseToken", req.BaseToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := s.protocol.CreatePosition(r.Context(), caller(r), collateral, debtToken, base)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPositionJSON(pos))
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	owner := caller(r)
	if raw := r.URL.Query().Get("owner"); raw != "" {
		var err error
		if owner, err = parseAddress("owner", raw); err != nil {
			writeError(w, r, err)
			return
		}
	}
	positions, err := s.protocol.Positions(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]positionJSON, 0, len(positions))
	for _, pos := range positions {
		out = append(out, toPositionJSON(pos))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	snap, err := s.protocol.Snapshot(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotJSON(snap))
}

func (s *Server) addCollateral(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req addRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, r, err)
		return
	}
	from := caller(r)
	var permit *token.Permit
	if req.Permit != nil {
		pos, err := s.protocol.Position(r.Context(), addr)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if permit, err = req.permit(from, pos); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := s.protocol.Add(r.Context(), from, addr, params, permit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addResponse{
		Collateral: amountString(res.Collateral),
		Debt:       amountString(res.Debt),
		Base:       amountString(res.Base),
		Fees:       toReceiptJSON(res.Fees),
	})
}

func (s *Server) addLeverage(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req leverageRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.protocol.AddLeverage(r.Context(), caller(r), addr, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leverageResponse{
		Debt: amountString(res.Debt),
		Base: amountString(res.Base),
		Fees: toReceiptJSON(res.Fees),
	})
}

func (s *Server) closePosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req closeRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.protocol.Close(r.Context(), caller(r), addr, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{
		BaseWithdrawn:       amountString(res.BaseWithdrawn),
		SwapIn:              amountString(res.SwapIn),
		SwapOut:             amountString(res.SwapOut),
		Repaid:              amountString(res.Repaid),
		Gains:               amountString(res.Gains),
		CollateralWithdrawn: amountString(res.CollateralWithdrawn),
		RemainingDebt:       amountString(res.RemainingDebt),
	})
}

func (s *Server) sweepPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.protocol.SweepPosition(r.Context(), caller(r), addr, tokenAddr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.protocol.Tokens(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]tokenJSON, 0, len(tokens))
	for _, meta := range tokens {
		out = append(out, tokenJSON{Address: meta.Address.Hex(), Symbol: meta.Symbol, Decimals: meta.Decimals})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, token.MaxAllowance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.protocol.Approve(r.Context(), tokenAddr, caller(r), spender, amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	amount, err := s.protocol.Balance(r.Context(), tokenAddr, account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) allowance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := pathAddress(w, r, "spender")
	if !ok {
		return
	}
	amount, err := s.protocol.Allowance(r.Context(), tokenAddr, owner, spender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) permitNonce(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	nonce, err := s.protocol.PermitNonce(r.Context(), tokenAddr, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.protocol.Pools(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]poolJSON, 0, len(pools))
	for _, pool := range pools {
		out = append(out, poolJSON{
			Token0:   pool.Token0.Hex(),
			Token1:   pool.Token1.Hex(),
			Fee:      pool.Fee,
			Reserve0: amountString(pool.Reserve0),
			Reserve1: amountString(pool.Reserve1),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) accountData(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	data, err := s.protocol.AccountData(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(data))
}

func (s *Server) feeSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.protocol.FeeSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsJSON{
		Owner:                   settings.Owner.Hex(),
		ProtocolFeeRatePermille: settings.ProtocolFeeRatePermille,
		ClientRate:              settings.ClientRate,
	})
}

func (s *Server) setTakeRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.protocol.SetTakeRate(r.Context(), caller(r), req.Rate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) collectFees(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	client, err := parseOptionalAddress("client", req.Client)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gross, err := parseAmount("gross", req.Gross, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := s.protocol.CollectFees(r.Context(), caller(r), client, tokenAddr, gross)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptJSON(receipt))
}

func (s *Server) clientWithdraw(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.protocol.ClientWithdraw(r.Context(), caller(r), tokenAddr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) clientAllocations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	client, err := parseOptionalAddress("client", query.Get("client"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxFee, err := parseAmount("maxFee", query.Get("maxFee"), nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	savings, clientFee, err := s.protocol.ClientAllocations(r.Context(), client, maxFee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userSavings": amountString(savings),
		"clientFee":   amountString(clientFee),
	})
}

func (s *Server) feeBalance(w http.ResponseWriter, r *http.Request) {
	client, ok := pathAddress(w, r, "client")
	if !ok {
		return
	}
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	amount, err := s.protocol.FeeBalance(r.Context(), client, tokenAddr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) setClientRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.protocol.SetClientRate(r.Context(), caller(r), req.Rate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) setProtocolFeeRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.protocol.SetProtocolFeeRate(r.Context(), caller(r), req.Rate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) sweepFees(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.protocol.SweepFees(r.Context(), caller(r), tokenAddr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !decode(w, r, &req) {
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.protocol.SetPrice(r.Context(), caller(r), tokenAddr, price, req.Source); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_ready", Message: "audit indexer disabled"})
		return
	}
	query := r.URL.Query()
	filter := audit.Filter{Type: query.Get("type")}
	for field, dst := range map[string]*string{"position": &filter.Position, "owner": &filter.Owner} {
		raw := query.Get(field)
		if raw == "" {
			continue
		}
		addr, err := parseAddress(field, raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		*dst = addr.Hex()
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: after", common.ErrOutOfRange))
			return
		}
		filter.AfterSeq = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, fmt.Errorf("%w: limit", common.ErrOutOfRange))
			return
		}
		filter.Limit = limit
	}
	records, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	type recordJSON struct {
		audit.Record
		Attributes map[string]string `json:"attributes"`
	}
	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Attrs()
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, recordJSON{Record: rec, Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, out)
}

func caller(r *http.Request) ethcommon.Address {
	addr, _ := middleware.Caller(r.Context())
	return addr
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (ethcommon.Address, bool) {
	addr, err := parseAddress(param, chi.URLParam(r, param))
	if err != nil {
		writeError(w, r, err)
		return ethcommon.Address{}, false
	}
	return addr, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: err.Error()})
		return false
	}
	return true
}

// errorBody is returned for every failed request. A failed operation is rolled
// back in full, so Committed is always false.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Committed bool   `json:"committed"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: code, RequestID: middleware.RequestIDFrom(r.Context())}
	if status == http.StatusInternalServerError {
		slog.Default().Error("request failed",
			slog.String("requestId", body.RequestID),
			slog.String("route", r.URL.Path),
			slog.Any("error", err))
	} else {
		body.Message = strings.TrimSpace(err.Error())
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
