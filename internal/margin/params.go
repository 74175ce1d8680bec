package margin

import (
	"OptionLedger/internal/fpmath"
	"fmt"
)

// ProductParams defines the margin curve per product: discount-period
// bounds (seconds to expiry, with precomputed square roots), discount
// ratio bounds (basis points) and the volatility shock multiplier
// (basis points applied to implied vol).
type ProductParams struct {
	ProductID  uint32
	DUpper     uint64 // seconds; at or above this, ratio = RUpper
	DLower     uint64 // seconds; at or below this, ratio = RLower
	SqrtDUpper uint64 // precomputed at set time
	SqrtDLower uint64
	RUpper     uint64 // basis points
	RLower     uint64 // basis points
	VolMul     uint64 // basis points
}

// ValidateProductParams checks parameter ranges before a governance
// update is accepted.
func ValidateProductParams(p *ProductParams) error {
	if p.ProductID == 0 {
		return fmt.Errorf("product id must be non-zero")
	}
	if p.DUpper <= p.DLower {
		return fmt.Errorf("d_upper (%d) must be > d_lower (%d)", p.DUpper, p.DLower)
	}
	if p.RUpper < p.RLower {
		return fmt.Errorf("r_upper (%d) must be >= r_lower (%d)", p.RUpper, p.RLower)
	}
	if p.RUpper > fpmath.BPS {
		return fmt.Errorf("r_upper must be <= %d bps, got %d", fpmath.BPS, p.RUpper)
	}
	if p.VolMul == 0 {
		return fmt.Errorf("vol multiplier must be > 0")
	}
	return nil
}

// ParamsManager holds per-product margin parameters. Updates are
// governance-controlled and take effect immediately for every account on
// the product; params are not versioned.
type ParamsManager struct {
	params map[uint32]*ProductParams
}

func NewParamsManager() *ParamsManager {
	return &ParamsManager{
		params: make(map[uint32]*ProductParams),
	}
}

func (pm *ParamsManager) Get(productID uint32) (*ProductParams, bool) {
	p, ok := pm.params[productID]
	return p, ok
}

// Update validates and stores params, precomputing the square roots of
// the discount-period bounds so the margin path takes one Sqrt per
// evaluation instead of three.
func (pm *ParamsManager) Update(p *ProductParams) error {
	if err := ValidateProductParams(p); err != nil {
		return fmt.Errorf("invalid margin params for product %d: %w", p.ProductID, err)
	}

	stored := *p
	stored.SqrtDUpper = fpmath.Sqrt(stored.DUpper)
	stored.SqrtDLower = fpmath.Sqrt(stored.DLower)
	pm.params[stored.ProductID] = &stored
	return nil
}
