package margin

import (
	"OptionLedger/internal/fpmath"
)

// Detail is the read-only projection of an account's short exposure used
// by the margin formula. Constructed fresh for each health check, never
// persisted. All strikes and amounts are 6-dp fixed point; a zero
// ProductID means no short exposure at all.
type Detail struct {
	CallAmount      uint64
	CallShortStrike uint64
	CallLongStrike  uint64 // 0 unless the call leg is a spread

	PutAmount      uint64
	PutShortStrike uint64
	PutLongStrike  uint64 // 0 unless the put leg is a spread

	Expiry    uint64 // unix seconds; shared by both legs
	ProductID uint32
}

// MarketInputs carries the oracle data the formula needs.
type MarketInputs struct {
	// Spot is the underlying price in strike-asset terms (6 dp).
	Spot uint64
	// Vol is the implied volatility (6 dp, 1_000_000 = 100%).
	Vol uint64
	// FxRate is the collateral asset's price in strike-asset terms
	// (6 dp). Zero flags collateral == strike asset.
	FxRate uint64
	// CollateralDecimals is the native precision of the collateral
	// asset; the result is rescaled into it.
	CollateralDecimals uint8
	// Now is the evaluation time in unix seconds.
	Now uint64
}

// MinCollateral computes the minimum collateral backing the short
// position described by detail, in the collateral asset's native
// decimals. Pure: same inputs, same output.
//
// The requirement is intrinsic liability at the current spot plus a
// discount-ratio-scaled buffer up to the worst of two vol-shocked spot
// scenarios. Long spread legs offset per scenario, clamped at zero.
func MinCollateral(d Detail, p *ProductParams, in MarketInputs) uint64 {
	if d.ProductID == 0 {
		return 0
	}
	if d.CallAmount == 0 && d.PutAmount == 0 {
		return 0
	}

	timeToExpiry := fpmath.SubClamp(d.Expiry, in.Now)
	ratio := DiscountRatio(timeToExpiry, p)

	shock := fpmath.MulDiv(in.Spot, fpmath.MulDiv(in.Vol, p.VolMul, fpmath.BPS), fpmath.Unit)
	spotUp := fpmath.AddClamp(in.Spot, shock)
	spotDown := fpmath.SubClamp(in.Spot, shock)

	base := d.liabilityAt(in.Spot)
	worst := d.liabilityAt(spotUp)
	if down := d.liabilityAt(spotDown); down > worst {
		worst = down
	}
	if base > worst {
		worst = base
	}

	// Strike-asset terms, 6 dp. AddClamp keeps the requirement monotone
	// in short amount even at the top of the range.
	required := fpmath.AddClamp(base, fpmath.MulDiv(worst-base, ratio, fpmath.BPS))
	if required == 0 {
		return 0
	}

	// Strike asset -> collateral asset.
	if in.FxRate != 0 {
		required = fpmath.MulDiv(required, fpmath.Unit, in.FxRate)
	}

	// Canonical 6 dp -> collateral native decimals, truncating.
	return fpmath.Rescale(required, fpmath.UnitDecimals, in.CollateralDecimals)
}

// DiscountRatio returns the basis-point discount ratio for a
// time-to-expiry, linear in sqrt(T) between the product's period bounds:
// RLower at or below DLower, RUpper at or above DUpper, monotone between.
func DiscountRatio(timeToExpiry uint64, p *ProductParams) uint64 {
	return fpmath.Interpolate(
		fpmath.Sqrt(timeToExpiry),
		p.SqrtDLower, p.SqrtDUpper,
		p.RLower, p.RUpper,
	)
}

// liabilityAt evaluates the net payout owed at expiry if the underlying
// settles at spot s, in strike-asset terms. Long legs offset their short
// leg per scenario and never push the result negative.
func (d Detail) liabilityAt(s uint64) uint64 {
	var total uint64

	if d.CallAmount > 0 {
		short := fpmath.SubClamp(s, d.CallShortStrike)
		var long uint64
		if d.CallLongStrike > 0 {
			long = fpmath.SubClamp(s, d.CallLongStrike)
		}
		total = fpmath.AddClamp(total, fpmath.MulDiv(d.CallAmount, fpmath.SubClamp(short, long), fpmath.Unit))
	}

	if d.PutAmount > 0 {
		short := fpmath.SubClamp(d.PutShortStrike, s)
		var long uint64
		if d.PutLongStrike > 0 {
			long = fpmath.SubClamp(d.PutLongStrike, s)
		}
		total = fpmath.AddClamp(total, fpmath.MulDiv(d.PutAmount, fpmath.SubClamp(short, long), fpmath.Unit))
	}

	return total
}
