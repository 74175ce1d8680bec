package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"OptionLedger/internal/engine"
	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/margin"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/position"
	"OptionLedger/internal/registry"
)

const (
	testUSDC = uint8(1)
	testWETH = uint8(2)
)

type apiEnv struct {
	mux        http.Handler
	owner      uuid.UUID
	governance uuid.UUID
	registryID uuid.UUID
	vault      *registry.InMemoryVault
	reg        *registry.InMemoryRegistry
	productID  uint32
	expiry     uint64
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		owner:      uuid.New(),
		governance: uuid.New(),
		registryID: uuid.New(),
		vault:      registry.NewInMemoryVault(),
		reg:        registry.NewInMemoryRegistry(),
		expiry:     1_800_000_000,
	}

	env.productID = env.reg.RegisterProduct(registry.ProductDetail{
		Product: position.Product{
			OracleID:     1,
			UnderlyingID: position.AssetID(testWETH),
			StrikeID:     position.AssetID(testUSDC),
			CollateralID: position.AssetID(testUSDC),
		},
		CollateralDecimals: fpmath.UnitDecimals,
	})

	params := margin.NewParamsManager()
	if err := params.Update(&margin.ProductParams{
		ProductID: env.productID,
		DUpper:    4 * 7 * 24 * 3600,
		DLower:    24 * 3600,
		RUpper:    10_000,
		RLower:    3_000,
		VolMul:    10_000,
	}); err != nil {
		t.Fatalf("params: %v", err)
	}

	feed := oracle.NewFeedCache()
	feed.ApplySpot(oracle.SpotUpdate{
		Base: position.AssetID(testWETH), Quote: position.AssetID(testUSDC),
		Price: 3_000 * fpmath.Unit, Sequence: 1,
	})
	feed.ApplyVol(oracle.VolUpdate{
		Underlying: position.AssetID(testWETH), Vol: 800_000, Sequence: 1,
	})

	// Two weeks to expiry on a frozen clock.
	nowSec := int64(env.expiry) - 14*24*3600
	eng := engine.New(engine.Config{
		Governance: env.governance,
		Registry:   env.registryID,
		Params:     params,
		Products:   env.reg,
		Vault:      env.vault,
		Spot:       feed,
		Vol:        feed,
		Clock:      func() time.Time { return time.Unix(nowSec, 0) },
	})

	env.vault.Fund(position.AssetID(testUSDC), env.owner, 1_000_000*fpmath.Unit)

	h := &apiHandler{
		engine:    eng,
		registry:  env.reg,
		startTime: time.Now(),
	}
	mux, err := h.routes()
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	env.mux = mux
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, caller uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != uuid.Nil {
		req.Header.Set("X-Caller-Id", caller.String())
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (env *apiEnv) callToken(strike uint64) tokenJSON {
	return tokenJSON{
		Kind:        "call",
		ProductID:   env.productID,
		Expiry:      env.expiry,
		ShortStrike: strike,
	}
}

// ============================================================
// Execute
// ============================================================

func TestExecuteDepositAndMint(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	tok := env.callToken(3_000 * fpmath.Unit)
	rec := env.do(t, "POST", path, env.owner, executeRequest{
		Actions: []actionJSON{
			{Kind: "deposit", Amount: 500_000 * fpmath.Unit, Asset: testUSDC},
			{Kind: "mint", Amount: 2 * fpmath.Unit, Token: &tok},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var acct accountResponse
	decodeBody(t, rec, &acct)
	if acct.CollateralAmount != 500_000*fpmath.Unit {
		t.Errorf("collateral: got %d", acct.CollateralAmount)
	}
	if acct.ShortCall == nil || acct.ShortCall.Amount != 2*fpmath.Unit {
		t.Errorf("short call leg missing or wrong: %+v", acct.ShortCall)
	}
	if acct.ShortCall.Token.ShortStrike != 3_000*fpmath.Unit {
		t.Errorf("strike round-trip: got %d", acct.ShortCall.Token.ShortStrike)
	}
}

func TestExecuteRequiresCaller(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	rec := env.do(t, "POST", path, uuid.Nil, executeRequest{
		Actions: []actionJSON{{Kind: "deposit", Amount: fpmath.Unit, Asset: testUSDC}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestExecuteStrangerForbidden(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	rec := env.do(t, "POST", path, uuid.New(), executeRequest{
		Actions: []actionJSON{{Kind: "deposit", Amount: fpmath.Unit, Asset: testUSDC}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteUnderwaterConflict(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	tok := env.callToken(3_000 * fpmath.Unit)
	rec := env.do(t, "POST", path, env.owner, executeRequest{
		Actions: []actionJSON{
			{Kind: "deposit", Amount: 10 * fpmath.Unit, Asset: testUSDC},
			{Kind: "mint", Amount: 2 * fpmath.Unit, Token: &tok},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteRejectsBadAction(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	rec := env.do(t, "POST", path, env.owner, executeRequest{
		Actions: []actionJSON{{Kind: "conjure", Amount: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

// ============================================================
// Queries
// ============================================================

func TestGetAccountAndMinCollateral(t *testing.T) {
	env := newAPIEnv(t)
	execPath := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)

	tok := env.callToken(3_000 * fpmath.Unit)
	if rec := env.do(t, "POST", execPath, env.owner, executeRequest{
		Actions: []actionJSON{
			{Kind: "deposit", Amount: 500_000 * fpmath.Unit, Asset: testUSDC},
			{Kind: "mint", Amount: fpmath.Unit, Token: &tok},
		},
	}); rec.Code != http.StatusOK {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, "GET", fmt.Sprintf("/v1/accounts/%s/0", env.owner), uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get account: %d", rec.Code)
	}
	var acct accountResponse
	decodeBody(t, rec, &acct)
	if acct.ShortCall == nil {
		t.Fatal("expected short call leg")
	}

	rec = env.do(t, "GET", fmt.Sprintf("/v1/accounts/%s/0/min-collateral", env.owner), uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("min collateral: %d %s", rec.Code, rec.Body.String())
	}
	var min map[string]uint64
	decodeBody(t, rec, &min)
	// One ATM call unit at spot 3000, 80% vol, two weeks out.
	if min["min_collateral"] != 1_792_800_000 {
		t.Errorf("min collateral: got %d, want 1_792_800_000", min["min_collateral"])
	}

	rec = env.do(t, "GET", fmt.Sprintf("/v1/accounts/%s/0/health", env.owner), uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	var healthy map[string]bool
	decodeBody(t, rec, &healthy)
	if !healthy["healthy"] {
		t.Error("account should be healthy")
	}
}

func TestGetAccountBadOwner(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, "GET", "/v1/accounts/not-a-uuid/0", uuid.Nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

// ============================================================
// Governance & state
// ============================================================

func TestMarginConfigGovernanceOnly(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/v1/products/%d/margin-config", env.productID)
	body := marginConfigRequest{
		DUpper: 8 * 7 * 24 * 3600,
		DLower: 24 * 3600,
		RUpper: 10_000,
		RLower: 2_000,
		VolMul: 12_000,
	}

	if rec := env.do(t, "POST", path, env.owner, body); rec.Code != http.StatusForbidden {
		t.Fatalf("non-governance: got %d, want 403", rec.Code)
	}
	if rec := env.do(t, "POST", path, env.governance, body); rec.Code != http.StatusOK {
		t.Fatalf("governance: got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAccessGrantOwnerOnly(t *testing.T) {
	env := newAPIEnv(t)
	delegate := uuid.New()
	path := fmt.Sprintf("/v1/accounts/%s/access", env.owner)
	body := accessRequest{Delegate: delegate.String(), Allowed: true}

	if rec := env.do(t, "POST", path, delegate, body); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger grant: got %d, want 403", rec.Code)
	}
	if rec := env.do(t, "POST", path, env.owner, body); rec.Code != http.StatusOK {
		t.Fatalf("owner grant: got %d", rec.Code)
	}

	// Delegate can now act on the owner's account.
	execPath := fmt.Sprintf("/v1/accounts/%s/3/execute", env.owner)
	rec := env.do(t, "POST", execPath, delegate, executeRequest{
		Actions: []actionJSON{{Kind: "deposit", Amount: fpmath.Unit, Asset: testUSDC}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("delegate execute: got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStateAdvances(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, "GET", "/v1/state", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d", rec.Code)
	}
	var before stateResponse
	decodeBody(t, rec, &before)
	if before.Sequence != 0 {
		t.Errorf("initial sequence: got %d", before.Sequence)
	}

	execPath := fmt.Sprintf("/v1/accounts/%s/0/execute", env.owner)
	if rec := env.do(t, "POST", execPath, env.owner, executeRequest{
		Actions: []actionJSON{{Kind: "deposit", Amount: fpmath.Unit, Asset: testUSDC}},
	}); rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d", rec.Code)
	}

	rec = env.do(t, "GET", "/v1/state", uuid.Nil, nil)
	var after stateResponse
	decodeBody(t, rec, &after)
	if after.Sequence != 1 {
		t.Errorf("sequence after commit: got %d, want 1", after.Sequence)
	}
	if after.StateHash == before.StateHash {
		t.Error("state hash should change on commit")
	}
}

func TestPayoutRegistryOnly(t *testing.T) {
	env := newAPIEnv(t)
	recipient := uuid.New()
	body := payoutRequest{Asset: testUSDC, Recipient: recipient.String(), Amount: fpmath.Unit}

	if rec := env.do(t, "POST", "/v1/payouts", env.owner, body); rec.Code != http.StatusForbidden {
		t.Fatalf("non-registry payout: got %d, want 403", rec.Code)
	}
	// Registry identity but empty reserves: underflow maps to 400.
	if rec := env.do(t, "POST", "/v1/payouts", env.registryID, body); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty reserves: got %d, want 400: %s", rec.Code, rec.Body.String())
	}
}
