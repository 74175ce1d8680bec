package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"OptionLedger/internal/engine"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/margin"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/position"
	"OptionLedger/internal/query"
	"OptionLedger/internal/registry"
)

// apiHandler serves the HTTP/JSON API. Caller identity rides on the
// X-Caller-Id header as a UUID; authorization decisions live in the
// engine, not here.
type apiHandler struct {
	engine    *engine.Engine
	registry  *registry.InMemoryRegistry
	query     *query.QueryService // nil when Postgres queries are disabled
	metrics   *observability.Metrics
	startTime time.Time
}

// ============================================================================
// Wire types
// ============================================================================

type tokenJSON struct {
	Kind        string `json:"kind"`
	ProductID   uint32 `json:"product_id"`
	Expiry      uint64 `json:"expiry"`
	LongStrike  uint64 `json:"long_strike,omitempty"`
	ShortStrike uint64 `json:"short_strike"`
}

type actionJSON struct {
	Kind      string     `json:"kind"`
	Amount    uint64     `json:"amount"`
	Asset     uint8      `json:"asset,omitempty"`
	Token     *tokenJSON `json:"token,omitempty"`
	LongToken *tokenJSON `json:"long_token,omitempty"`
}

type executeRequest struct {
	Actions []actionJSON `json:"actions"`
}

type shortLegJSON struct {
	Token  tokenJSON `json:"token"`
	Amount uint64    `json:"amount"`
}

type accountResponse struct {
	Path             string        `json:"path"`
	CollateralAmount uint64        `json:"collateral_amount"`
	CollateralAsset  uint8         `json:"collateral_asset"`
	ShortCall        *shortLegJSON `json:"short_call,omitempty"`
	ShortPut         *shortLegJSON `json:"short_put,omitempty"`
}

type liquidateRequest struct {
	Repayments []shortLegJSON `json:"repayments"`
}

type liquidateResponse struct {
	Asset              uint8  `json:"asset"`
	CollateralReleased uint64 `json:"collateral_released"`
}

type transferRequest struct {
	ToOwner string `json:"to_owner"`
	ToSub   uint8  `json:"to_sub"`
}

type accessRequest struct {
	Delegate string `json:"delegate"`
	Allowed  bool   `json:"allowed"`
}

type marginConfigRequest struct {
	DUpper uint64 `json:"d_upper"`
	DLower uint64 `json:"d_lower"`
	RUpper uint64 `json:"r_upper"`
	RLower uint64 `json:"r_lower"`
	VolMul uint64 `json:"vol_mul"`
}

type registerProductRequest struct {
	OracleID           uint8 `json:"oracle_id"`
	UnderlyingID       uint8 `json:"underlying_id"`
	StrikeID           uint8 `json:"strike_id"`
	CollateralID       uint8 `json:"collateral_id"`
	CollateralDecimals uint8 `json:"collateral_decimals"`
}

type settlementFixRequest struct {
	Expiry uint64 `json:"expiry"`
	Spot   uint64 `json:"spot"`
	FxRate uint64 `json:"fx_rate"`
}

type payoutRequest struct {
	Asset     uint8  `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

type stateResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	UptimeSec int64  `json:"uptime_sec"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ============================================================================
// Routing
// ============================================================================

type apiFunc func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int

func (h *apiHandler) routes() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	type route struct {
		method, path string
		fn           apiFunc
	}
	for _, rt := range []route{
		{"POST", "/v1/accounts/{owner}/{sub}/execute", h.handleExecute},
		{"GET", "/v1/accounts/{owner}/{sub}", h.handleGetAccount},
		{"GET", "/v1/accounts/{owner}/{sub}/min-collateral", h.handleMinCollateral},
		{"GET", "/v1/accounts/{owner}/{sub}/health", h.handleAccountHealth},
		{"POST", "/v1/accounts/{owner}/{sub}/liquidate", h.handleLiquidate},
		{"POST", "/v1/accounts/{owner}/{sub}/settle", h.handleSettle},
		{"POST", "/v1/accounts/{owner}/{sub}/transfer", h.handleTransfer},
		{"POST", "/v1/accounts/{owner}/access", h.handleAccess},
		{"POST", "/v1/products", h.handleRegisterProduct},
		{"POST", "/v1/products/{id}/margin-config", h.handleMarginConfig},
		{"POST", "/v1/products/{id}/settlement-fix", h.handleSettlementFix},
		{"POST", "/v1/payouts", h.handlePayout},
		{"GET", "/v1/state", h.handleState},
		{"GET", "/v1/audit/accounts/{owner}/{sub}", h.handleAuditSnapshot},
		{"GET", "/v1/audit/accounts/{owner}/{sub}/journals", h.handleAuditJournals},
		{"GET", "/v1/audit/integrity", h.handleAuditIntegrity},
	} {
		if err := mux.HandlePath(rt.method, rt.path, h.wrap(rt.path, rt.fn)); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.path, err)
		}
	}
	return mux, nil
}

func (h *apiHandler) wrap(endpoint string, fn apiFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		status := fn(w, r, pathParams)
		if h.metrics != nil {
			h.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			h.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (h *apiHandler) handleExecute(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, key, status := h.callerAndKey(w, r, pathParams)
	if status != 0 {
		return status
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	if len(req.Actions) == 0 {
		return writeError(w, http.StatusBadRequest, errors.New("actions is empty"))
	}

	actions := make([]engine.Action, 0, len(req.Actions))
	for i, a := range req.Actions {
		act, err := decodeAction(a)
		if err != nil {
			return writeError(w, http.StatusBadRequest, fmt.Errorf("action %d: %w", i, err))
		}
		actions = append(actions, act)
	}

	if err := h.engine.Execute(caller, key, actions); err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, accountToJSON(key, h.engine.GetAccount(key)))
}

func (h *apiHandler) handleGetAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}
	return writeJSON(w, http.StatusOK, accountToJSON(key, h.engine.GetAccount(key)))
}

func (h *apiHandler) handleMinCollateral(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}
	min, err := h.engine.GetMinCollateral(key)
	if err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, map[string]uint64{"min_collateral": min})
}

func (h *apiHandler) handleAccountHealth(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}
	healthy, err := h.engine.IsAccountHealthy(key)
	if err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

func (h *apiHandler) handleLiquidate(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, key, status := h.callerAndKey(w, r, pathParams)
	if status != 0 {
		return status
	}

	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	if len(req.Repayments) == 0 || len(req.Repayments) > 2 {
		return writeError(w, http.StatusBadRequest, errors.New("repayments must have 1 or 2 entries"))
	}

	var tokens [2]position.TokenID
	var amounts [2]uint64
	for i, rep := range req.Repayments {
		tok, err := decodeToken(&rep.Token)
		if err != nil {
			return writeError(w, http.StatusBadRequest, fmt.Errorf("repayment %d: %w", i, err))
		}
		tokens[i] = tok
		amounts[i] = rep.Amount
	}

	asset, released, err := h.engine.Liquidate(caller, key, tokens, amounts)
	if err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, liquidateResponse{
		Asset:              uint8(asset),
		CollateralReleased: released,
	})
}

func (h *apiHandler) handleSettle(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}
	if err := h.engine.SettleExpiry(key); err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, accountToJSON(key, h.engine.GetAccount(key)))
}

func (h *apiHandler) handleTransfer(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, from, status := h.callerAndKey(w, r, pathParams)
	if status != 0 {
		return status
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	toOwner, err := uuid.Parse(req.ToOwner)
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to_owner: %w", err))
	}

	to := ledger.NewAccountKey(toOwner, req.ToSub)
	if err := h.engine.TransferAccount(caller, from, to); err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, accountToJSON(to, h.engine.GetAccount(to)))
}

// handleAccess grants or revokes a delegate for the owner in the path.
// Only the owner may change their own delegation set.
func (h *apiHandler) handleAccess(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, status := callerID(w, r)
	if status != 0 {
		return status
	}
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
	}
	if caller != owner {
		return writeError(w, http.StatusForbidden, ledger.ErrAccessDenied)
	}

	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	delegate, err := uuid.Parse(req.Delegate)
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid delegate: %w", err))
	}

	h.engine.SetAccountAccess(owner, delegate, req.Allowed)
	return writeJSON(w, http.StatusOK, map[string]bool{"allowed": req.Allowed})
}

func (h *apiHandler) handleRegisterProduct(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	var req registerProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}

	id := h.registry.RegisterProduct(registry.ProductDetail{
		Product: position.Product{
			OracleID:     req.OracleID,
			UnderlyingID: position.AssetID(req.UnderlyingID),
			StrikeID:     position.AssetID(req.StrikeID),
			CollateralID: position.AssetID(req.CollateralID),
		},
		CollateralDecimals: req.CollateralDecimals,
	})
	return writeJSON(w, http.StatusOK, map[string]uint32{"product_id": id})
}

func (h *apiHandler) handleMarginConfig(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, status := callerID(w, r)
	if status != 0 {
		return status
	}
	productID, err := strconv.ParseUint(pathParams["id"], 10, 32)
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid product id: %w", err))
	}

	var req marginConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}

	err = h.engine.SetProductMarginConfig(caller, margin.ProductParams{
		ProductID: uint32(productID),
		DUpper:    req.DUpper,
		DLower:    req.DLower,
		RUpper:    req.RUpper,
		RLower:    req.RLower,
		VolMul:    req.VolMul,
	})
	if err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *apiHandler) handleSettlementFix(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	productID, err := strconv.ParseUint(pathParams["id"], 10, 32)
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid product id: %w", err))
	}

	var req settlementFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	if req.Spot == 0 {
		return writeError(w, http.StatusBadRequest, errors.New("spot must be non-zero"))
	}

	h.registry.RecordSettlementFix(uint32(productID), req.Expiry, registry.SettlementFix{
		Spot:   req.Spot,
		FxRate: req.FxRate,
	})
	return writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (h *apiHandler) handlePayout(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	caller, status := callerID(w, r)
	if status != 0 {
		return status
	}

	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
	}
	recipient, err := uuid.Parse(req.Recipient)
	if err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("invalid recipient: %w", err))
	}

	if err := h.engine.PayCashValue(caller, position.AssetID(req.Asset), recipient, req.Amount); err != nil {
		return writeDomainError(w, err)
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"paid": true})
}

func (h *apiHandler) handleState(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	hash := h.engine.StateHash()
	return writeJSON(w, http.StatusOK, stateResponse{
		Sequence:  h.engine.Sequence(),
		StateHash: hex.EncodeToString(hash[:]),
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
	})
}

// ============================================================================
// Audit trail
// ============================================================================

func (h *apiHandler) handleAuditSnapshot(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	if h.query == nil {
		return writeError(w, http.StatusServiceUnavailable, errors.New("audit queries disabled"))
	}
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}

	snap, err := h.query.GetAccountSnapshot(r.Context(), key)
	if errors.Is(err, query.ErrNotFound) {
		return writeError(w, http.StatusNotFound, err)
	}
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, http.StatusOK, snap)
}

func (h *apiHandler) handleAuditJournals(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	if h.query == nil {
		return writeError(w, http.StatusServiceUnavailable, errors.New("audit queries disabled"))
	}
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return status
	}

	q := r.URL.Query()
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	afterSeq, _ := strconv.ParseInt(q.Get("after_sequence"), 10, 64)

	journals, err := h.query.ListJournals(r.Context(), key, pageSize, afterSeq)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"journals": journals})
}

func (h *apiHandler) handleAuditIntegrity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) int {
	if h.query == nil {
		return writeError(w, http.StatusServiceUnavailable, errors.New("audit queries disabled"))
	}
	report, err := h.query.VerifyHashChain(r.Context())
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, int) {
	raw := r.Header.Get("X-Caller-Id")
	if raw == "" {
		return uuid.Nil, writeError(w, http.StatusUnauthorized, errors.New("X-Caller-Id header is required"))
	}
	caller, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid X-Caller-Id: %w", err))
	}
	return caller, 0
}

func (h *apiHandler) keyFromParams(w http.ResponseWriter, pathParams map[string]string) (ledger.AccountKey, int) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		return ledger.AccountKey{}, writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
	}
	sub, err := strconv.ParseUint(pathParams["sub"], 10, 8)
	if err != nil {
		return ledger.AccountKey{}, writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sub-account index: %w", err))
	}
	return ledger.NewAccountKey(owner, uint8(sub)), 0
}

func (h *apiHandler) callerAndKey(w http.ResponseWriter, r *http.Request, pathParams map[string]string) (uuid.UUID, ledger.AccountKey, int) {
	caller, status := callerID(w, r)
	if status != 0 {
		return uuid.Nil, ledger.AccountKey{}, status
	}
	key, status := h.keyFromParams(w, pathParams)
	if status != 0 {
		return uuid.Nil, ledger.AccountKey{}, status
	}
	return caller, key, 0
}

func decodeAction(a actionJSON) (engine.Action, error) {
	var kind engine.ActionKind
	switch a.Kind {
	case "deposit":
		kind = engine.ActionDeposit
	case "withdraw":
		kind = engine.ActionWithdraw
	case "mint":
		kind = engine.ActionMint
	case "burn":
		kind = engine.ActionBurn
	case "merge":
		kind = engine.ActionMerge
	case "split":
		kind = engine.ActionSplit
	default:
		return engine.Action{}, fmt.Errorf("unknown action kind %q", a.Kind)
	}

	act := engine.Action{
		Kind:   kind,
		Amount: a.Amount,
		Asset:  position.AssetID(a.Asset),
	}
	if a.Token != nil {
		tok, err := decodeToken(a.Token)
		if err != nil {
			return engine.Action{}, fmt.Errorf("token: %w", err)
		}
		act.Token = tok
	}
	if a.LongToken != nil {
		tok, err := decodeToken(a.LongToken)
		if err != nil {
			return engine.Action{}, fmt.Errorf("long_token: %w", err)
		}
		act.LongToken = tok
	}
	return act, nil
}

func decodeToken(t *tokenJSON) (position.TokenID, error) {
	var kind position.Kind
	switch t.Kind {
	case "call":
		kind = position.KindCall
	case "put":
		kind = position.KindPut
	case "call_spread":
		kind = position.KindCallSpread
	case "put_spread":
		kind = position.KindPutSpread
	default:
		return position.TokenID{}, fmt.Errorf("unknown instrument kind %q", t.Kind)
	}
	tok := position.TokenID{
		Kind:        kind,
		ProductID:   t.ProductID,
		Expiry:      t.Expiry,
		LongStrike:  t.LongStrike,
		ShortStrike: t.ShortStrike,
	}
	if err := tok.Validate(); err != nil {
		return position.TokenID{}, err
	}
	return tok, nil
}

func encodeToken(t position.TokenID) tokenJSON {
	var kind string
	switch t.Kind {
	case position.KindCall:
		kind = "call"
	case position.KindPut:
		kind = "put"
	case position.KindCallSpread:
		kind = "call_spread"
	case position.KindPutSpread:
		kind = "put_spread"
	}
	return tokenJSON{
		Kind:        kind,
		ProductID:   t.ProductID,
		Expiry:      t.Expiry,
		LongStrike:  t.LongStrike,
		ShortStrike: t.ShortStrike,
	}
}

func accountToJSON(key ledger.AccountKey, acct ledger.Account) accountResponse {
	resp := accountResponse{
		Path:             key.AccountPath(),
		CollateralAmount: acct.CollateralAmount,
		CollateralAsset:  uint8(acct.CollateralID),
	}
	if !acct.ShortCallID.IsZero() {
		resp.ShortCall = &shortLegJSON{
			Token:  encodeToken(position.Decode(acct.ShortCallID)),
			Amount: acct.ShortCallAmount,
		}
	}
	if !acct.ShortPutID.IsZero() {
		resp.ShortPut = &shortLegJSON{
			Token:  encodeToken(position.Decode(acct.ShortPutID)),
			Amount: acct.ShortPutAmount,
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, err error) int {
	return writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeDomainError maps engine and ledger sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccessDenied):
		return writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ledger.ErrInvalidPosition),
		errors.Is(err, ledger.ErrArithmeticUnderflow),
		errors.Is(err, ledger.ErrWrongCollateralAsset):
		return writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrAccountUnderwater),
		errors.Is(err, ledger.ErrAccountNotEmpty),
		errors.Is(err, ledger.ErrWrongLiquidationRepayment),
		errors.Is(err, engine.ErrAccountHealthy),
		errors.Is(err, engine.ErrNotExpired):
		return writeError(w, http.StatusConflict, err)
	case errors.Is(err, registry.ErrUnknownProduct),
		errors.Is(err, registry.ErrNoSettlementPrice):
		return writeError(w, http.StatusNotFound, err)
	default:
		return writeError(w, http.StatusInternalServerError, err)
	}
}
