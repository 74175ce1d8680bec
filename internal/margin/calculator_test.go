package margin_test

import (
	"testing"

	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/margin"
)

const week = uint64(7 * 24 * 3600)

// testParams: discount runs 30% -> 100% between 1 day and 4 weeks out,
// vol shock at 1x implied vol.
func testParams(t *testing.T) *margin.ProductParams {
	t.Helper()
	pm := margin.NewParamsManager()
	err := pm.Update(&margin.ProductParams{
		ProductID: 7,
		DUpper:    4 * week,
		DLower:    24 * 3600,
		RUpper:    fpmath.BPS,
		RLower:    3_000,
		VolMul:    fpmath.BPS,
	})
	if err != nil {
		t.Fatalf("params rejected: %v", err)
	}
	p, _ := pm.Get(7)
	return p
}

func inputs(spot uint64) margin.MarketInputs {
	return margin.MarketInputs{
		Spot:               spot,
		Vol:                800_000, // 80%
		FxRate:             0,       // collateral == strike asset
		CollateralDecimals: fpmath.UnitDecimals,
		Now:                1_700_000_000,
	}
}

// ============================================================================
// Test: ProductParams
// ============================================================================

func TestValidateProductParams(t *testing.T) {
	base := margin.ProductParams{
		ProductID: 1,
		DUpper:    4 * week,
		DLower:    24 * 3600,
		RUpper:    fpmath.BPS,
		RLower:    3_000,
		VolMul:    fpmath.BPS,
	}

	tests := []struct {
		name    string
		mutate  func(*margin.ProductParams)
		wantErr bool
	}{
		{"valid", func(p *margin.ProductParams) {}, false},
		{"zero product", func(p *margin.ProductParams) { p.ProductID = 0 }, true},
		{"inverted periods", func(p *margin.ProductParams) { p.DUpper = p.DLower }, true},
		{"inverted ratios", func(p *margin.ProductParams) { p.RLower = p.RUpper + 1 }, true},
		{"ratio above one", func(p *margin.ProductParams) { p.RUpper = fpmath.BPS + 1; p.RLower = fpmath.BPS + 1 }, true},
		{"zero vol multiplier", func(p *margin.ProductParams) { p.VolMul = 0 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			err := margin.ValidateProductParams(&p)
			if (err != nil) != tc.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestParamsManager_UpdatePrecomputesSqrts(t *testing.T) {
	p := testParams(t)
	if p.SqrtDUpper != fpmath.Sqrt(4*week) {
		t.Errorf("SqrtDUpper = %d, want %d", p.SqrtDUpper, fpmath.Sqrt(4*week))
	}
	if p.SqrtDLower != fpmath.Sqrt(24*3600) {
		t.Errorf("SqrtDLower = %d, want %d", p.SqrtDLower, fpmath.Sqrt(24*3600))
	}
}

// ============================================================================
// Test: DiscountRatio curve
// ============================================================================

func TestDiscountRatio_Boundaries(t *testing.T) {
	p := testParams(t)

	if r := margin.DiscountRatio(0, p); r != p.RLower {
		t.Errorf("ratio at expiry = %d, want RLower %d", r, p.RLower)
	}
	if r := margin.DiscountRatio(p.DLower, p); r != p.RLower {
		t.Errorf("ratio at DLower = %d, want RLower %d", r, p.RLower)
	}
	if r := margin.DiscountRatio(p.DUpper, p); r != p.RUpper {
		t.Errorf("ratio at DUpper = %d, want RUpper %d", r, p.RUpper)
	}
	if r := margin.DiscountRatio(p.DUpper*10, p); r != p.RUpper {
		t.Errorf("ratio far out = %d, want RUpper %d", r, p.RUpper)
	}
}

func TestDiscountRatio_MonotoneInTime(t *testing.T) {
	p := testParams(t)

	prev := uint64(0)
	for tte := uint64(0); tte <= 5*week; tte += 3600 {
		r := margin.DiscountRatio(tte, p)
		if r < prev {
			t.Fatalf("ratio decreased at tte=%d: %d < %d", tte, r, prev)
		}
		if r < p.RLower || r > p.RUpper {
			t.Fatalf("ratio %d outside [%d, %d] at tte=%d", r, p.RLower, p.RUpper, tte)
		}
		prev = r
	}
}

// ============================================================================
// Test: MinCollateral
// ============================================================================

func TestMinCollateral_NoExposure(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	if got := margin.MinCollateral(margin.Detail{}, p, in); got != 0 {
		t.Errorf("zero detail requires %d, want 0", got)
	}

	flat := margin.Detail{ProductID: 7, Expiry: in.Now + week}
	if got := margin.MinCollateral(flat, p, in); got != 0 {
		t.Errorf("zero amounts require %d, want 0", got)
	}
}

func TestMinCollateral_DeepOTM_FullyDiscounted(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)
	in.Vol = 1 // negligible shock

	d := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now, // at expiry: ratio = RLower, shock buffer irrelevant
		CallAmount:      fpmath.Unit,
		CallShortStrike: 5_000 * fpmath.Unit,
	}

	if got := margin.MinCollateral(d, p, in); got != 0 {
		t.Errorf("worthless expiring call requires %d, want 0", got)
	}
}

func TestMinCollateral_ITMCall_AtLeastIntrinsic(t *testing.T) {
	p := testParams(t)
	in := inputs(3_500 * fpmath.Unit)

	d := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
	}

	got := margin.MinCollateral(d, p, in)
	intrinsic := uint64(500 * fpmath.Unit)
	if got < intrinsic {
		t.Errorf("requirement %d below intrinsic liability %d", got, intrinsic)
	}
}

func TestMinCollateral_MonotoneInSpot_Call(t *testing.T) {
	p := testParams(t)

	d := margin.Detail{
		ProductID:       7,
		Expiry:          inputs(0).Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
	}

	prev := uint64(0)
	for spot := uint64(2_000); spot <= 5_000; spot += 100 {
		got := margin.MinCollateral(d, p, inputs(spot*fpmath.Unit))
		if got < prev {
			t.Fatalf("call requirement decreased at spot=%d: %d < %d", spot, got, prev)
		}
		prev = got
	}
}

func TestMinCollateral_MonotoneInAmount(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	prev := uint64(0)
	for units := uint64(1); units <= 20; units++ {
		d := margin.Detail{
			ProductID:      7,
			Expiry:         in.Now + 2*week,
			PutAmount:      units * fpmath.Unit,
			PutShortStrike: 2_800 * fpmath.Unit,
		}
		got := margin.MinCollateral(d, p, in)
		if got < prev {
			t.Fatalf("put requirement decreased at amount=%d: %d < %d", units, got, prev)
		}
		prev = got
	}
}

func TestMinCollateral_LargeAmountClampsNotWraps(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	detail := func(amount uint64) margin.Detail {
		return margin.Detail{
			ProductID:       7,
			Expiry:          in.Now + 2*week,
			CallAmount:      amount, // 6-dp fixed point
			CallShortStrike: 3_000 * fpmath.Unit,
		}
	}

	// The largest short must never require less than a smaller one;
	// liability sums past 2^64 clamp at the top of the range instead of
	// wrapping to a near-zero requirement.
	prev := uint64(0)
	for _, amount := range []uint64{1e12, 1e15, 92e15, 1 << 63} {
		got := margin.MinCollateral(detail(amount), p, in)
		if got < prev {
			t.Fatalf("requirement decreased at amount=%d: %d < %d", amount, got, prev)
		}
		if got == 0 {
			t.Fatalf("amount %d requires zero collateral", amount)
		}
		prev = got
	}
}

func TestMinCollateral_MonotoneInTimeToExpiry(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	d := margin.Detail{
		ProductID:       7,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_100 * fpmath.Unit,
	}

	prev := uint64(0)
	for tte := uint64(0); tte <= 6*week; tte += 12 * 3600 {
		d.Expiry = in.Now + tte
		got := margin.MinCollateral(d, p, in)
		if got < prev {
			t.Fatalf("requirement decreased at tte=%d: %d < %d", tte, got, prev)
		}
		prev = got
	}
}

func TestMinCollateral_SpreadCapped(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	spread := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
		CallLongStrike:  3_200 * fpmath.Unit,
	}
	naked := spread
	naked.CallLongStrike = 0

	// A call spread's liability is capped at the strike width, so the
	// requirement can never exceed it nor the naked requirement.
	width := uint64(200 * fpmath.Unit)
	got := margin.MinCollateral(spread, p, in)
	if got > width {
		t.Errorf("spread requirement %d exceeds strike width %d", got, width)
	}
	if nk := margin.MinCollateral(naked, p, in); got > nk {
		t.Errorf("spread requirement %d exceeds naked requirement %d", got, nk)
	}
}

func TestMinCollateral_TightSpread_NearZero(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	d := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
		CallLongStrike:  3_000*fpmath.Unit + 1, // one tick wide
	}

	if got := margin.MinCollateral(d, p, in); got > 1 {
		t.Errorf("one-tick spread requires %d, want <= 1", got)
	}
}

func TestMinCollateral_FxConversion(t *testing.T) {
	p := testParams(t)
	in := inputs(3_500 * fpmath.Unit)

	d := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
	}

	same := margin.MinCollateral(d, p, in)

	// Collateral asset worth 2 strike units: requirement halves.
	in.FxRate = 2 * fpmath.Unit
	halved := margin.MinCollateral(d, p, in)
	if halved != same/2 {
		t.Errorf("fx=2.0 requirement = %d, want %d", halved, same/2)
	}
}

func TestMinCollateral_RescalesToCollateralDecimals(t *testing.T) {
	p := testParams(t)
	in := inputs(3_500 * fpmath.Unit)

	d := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
	}

	at6 := margin.MinCollateral(d, p, in)

	in.CollateralDecimals = 8
	at8 := margin.MinCollateral(d, p, in)
	if at8/100 != at6 {
		t.Errorf("8dp requirement %d does not scale from 6dp %d", at8, at6)
	}

	in.CollateralDecimals = 2
	at2 := margin.MinCollateral(d, p, in)
	if at2 != at6/10_000 {
		t.Errorf("2dp requirement = %d, want %d", at2, at6/10_000)
	}
}

func TestMinCollateral_BothLegsAdd(t *testing.T) {
	p := testParams(t)
	in := inputs(3_000 * fpmath.Unit)

	call := margin.Detail{
		ProductID:       7,
		Expiry:          in.Now + 2*week,
		CallAmount:      fpmath.Unit,
		CallShortStrike: 3_000 * fpmath.Unit,
	}
	put := margin.Detail{
		ProductID:      7,
		Expiry:         in.Now + 2*week,
		PutAmount:      fpmath.Unit,
		PutShortStrike: 3_000 * fpmath.Unit,
	}
	both := call
	both.PutAmount = put.PutAmount
	both.PutShortStrike = put.PutShortStrike

	c := margin.MinCollateral(call, p, in)
	q := margin.MinCollateral(put, p, in)
	b := margin.MinCollateral(both, p, in)

	if b < c || b < q {
		t.Errorf("straddle requirement %d below a single leg (call=%d put=%d)", b, c, q)
	}
	if b > c+q {
		t.Errorf("straddle requirement %d exceeds leg sum %d", b, c+q)
	}
}
