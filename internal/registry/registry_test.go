package registry_test

import (
	"errors"
	"testing"

	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/position"
	"OptionLedger/internal/registry"

	"github.com/google/uuid"
)

func testProduct() registry.ProductDetail {
	return registry.ProductDetail{
		Product: position.Product{
			OracleID:     1,
			UnderlyingID: 2,
			StrikeID:     1,
			CollateralID: 1,
		},
		CollateralDecimals: fpmath.UnitDecimals,
	}
}

// ============================================================================
// Test: InMemoryRegistry
// ============================================================================

func TestRegistry_GetProductDetail(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	id := r.RegisterProduct(testProduct())

	detail, err := r.GetProductDetail(id)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if detail.Product.CollateralID != 1 {
		t.Errorf("collateral = %d, want 1", detail.Product.CollateralID)
	}

	_, err = r.GetProductDetail(id + 1)
	if !errors.Is(err, registry.ErrUnknownProduct) {
		t.Errorf("got %v, want ErrUnknownProduct", err)
	}
}

func TestRegistry_GetPayout_Call(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	id := r.RegisterProduct(testProduct())

	tok := position.TokenID{
		Kind:        position.KindCall,
		ProductID:   id,
		Expiry:      1_800_000_000,
		ShortStrike: 3_000 * fpmath.Unit,
	}

	// No fix recorded yet.
	if _, _, err := r.GetPayout(tok, fpmath.Unit); !errors.Is(err, registry.ErrNoSettlementPrice) {
		t.Fatalf("got %v, want ErrNoSettlementPrice", err)
	}

	r.RecordSettlementFix(id, tok.Expiry, registry.SettlementFix{Spot: 3_400 * fpmath.Unit})

	asset, payout, err := r.GetPayout(tok, 2*fpmath.Unit)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if asset != 1 {
		t.Errorf("asset = %d, want 1", asset)
	}
	if payout != 800*fpmath.Unit {
		t.Errorf("payout = %d, want %d", payout, 800*fpmath.Unit)
	}
}

func TestRegistry_GetPayout_SpreadCapped(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	id := r.RegisterProduct(testProduct())

	tok := position.TokenID{
		Kind:        position.KindPutSpread,
		ProductID:   id,
		Expiry:      1_800_000_000,
		LongStrike:  2_600 * fpmath.Unit,
		ShortStrike: 2_800 * fpmath.Unit,
	}
	r.RecordSettlementFix(id, tok.Expiry, registry.SettlementFix{Spot: 2_000 * fpmath.Unit})

	_, payout, err := r.GetPayout(tok, fpmath.Unit)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if payout != 200*fpmath.Unit {
		t.Errorf("spread payout = %d, want strike width %d", payout, 200*fpmath.Unit)
	}
}

func TestRegistry_GetPayout_OutOfTheMoney(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	id := r.RegisterProduct(testProduct())

	tok := position.TokenID{
		Kind:        position.KindPut,
		ProductID:   id,
		Expiry:      1_800_000_000,
		ShortStrike: 2_800 * fpmath.Unit,
	}
	r.RecordSettlementFix(id, tok.Expiry, registry.SettlementFix{Spot: 3_000 * fpmath.Unit})

	_, payout, err := r.GetPayout(tok, fpmath.Unit)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if payout != 0 {
		t.Errorf("OTM payout = %d, want 0", payout)
	}
}

func TestRegistry_GetPayout_FxConversion(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	id := r.RegisterProduct(testProduct())

	tok := position.TokenID{
		Kind:        position.KindCall,
		ProductID:   id,
		Expiry:      1_800_000_000,
		ShortStrike: 3_000 * fpmath.Unit,
	}
	r.RecordSettlementFix(id, tok.Expiry, registry.SettlementFix{
		Spot:   3_400 * fpmath.Unit,
		FxRate: 2 * fpmath.Unit, // collateral worth 2 strike units
	})

	_, payout, err := r.GetPayout(tok, fpmath.Unit)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if payout != 200*fpmath.Unit {
		t.Errorf("payout = %d, want %d", payout, 200*fpmath.Unit)
	}
}

// ============================================================================
// Test: InMemoryVault
// ============================================================================

func TestVault_DebitCredit(t *testing.T) {
	v := registry.NewInMemoryVault()
	holder := uuid.New()

	v.Fund(1, holder, 1_000)

	if err := v.Debit(1, holder, 400); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if err := v.Credit(1, holder, 100); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if got := v.Balance(1, holder); got != 700 {
		t.Errorf("balance = %d, want 700", got)
	}
}

func TestVault_DebitInsufficient(t *testing.T) {
	v := registry.NewInMemoryVault()
	holder := uuid.New()
	v.Fund(1, holder, 100)

	err := v.Debit(1, holder, 101)
	if !errors.Is(err, registry.ErrInsufficientVaultBalance) {
		t.Errorf("got %v, want ErrInsufficientVaultBalance", err)
	}
	if got := v.Balance(1, holder); got != 100 {
		t.Errorf("balance changed on failed debit: %d", got)
	}
}
