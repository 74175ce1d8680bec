package registry

import (
	"errors"
	"fmt"

	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/position"
)

var (
	// ErrUnknownProduct means the product id was never registered.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrNoSettlementPrice means settlement was requested before the
	// expiry fix for the product was recorded.
	ErrNoSettlementPrice = errors.New("no settlement price recorded")
)

// ProductDetail is the registry's view of one product: the asset triple
// the option is written on plus the native precision of its collateral
// asset.
type ProductDetail struct {
	Product            position.Product
	CollateralDecimals uint8
}

// ProductRegistry resolves product metadata and expiry payouts. The
// engine treats it as an external collaborator.
type ProductRegistry interface {
	// GetProductDetail resolves a product id to its asset triple and
	// collateral precision.
	GetProductDetail(productID uint32) (ProductDetail, error)

	// GetPayout values the obligation owed to the long holders of
	// amount units of the given token at its expiry fix. The payout is
	// returned in the product's collateral asset, native decimals.
	GetPayout(token position.TokenID, amount uint64) (position.AssetID, uint64, error)
}

// SettlementFix is the recorded expiry print for one product/expiry
// pair: the underlying spot and the collateral/strike exchange rate at
// the fixing time, both 6-dp fixed point. FxRate zero means collateral
// and strike are the same asset.
type SettlementFix struct {
	Spot   uint64
	FxRate uint64
}

type fixKey struct {
	ProductID uint32
	Expiry    uint64
}

// InMemoryRegistry is the keyed in-process ProductRegistry used for
// wiring and tests. Registration and fix recording happen on the serving
// path's single writer, so there is no locking.
type InMemoryRegistry struct {
	products map[uint32]ProductDetail
	fixes    map[fixKey]SettlementFix
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		products: make(map[uint32]ProductDetail),
		fixes:    make(map[fixKey]SettlementFix),
	}
}

// RegisterProduct stores a product under its encoded id.
func (r *InMemoryRegistry) RegisterProduct(detail ProductDetail) uint32 {
	id := position.EncodeProduct(detail.Product)
	r.products[id] = detail
	return id
}

// RecordSettlementFix stores the expiry print for a product/expiry pair.
// Overwriting an existing fix is allowed (oracle corrections before any
// settlement consumed it).
func (r *InMemoryRegistry) RecordSettlementFix(productID uint32, expiry uint64, fix SettlementFix) {
	r.fixes[fixKey{ProductID: productID, Expiry: expiry}] = fix
}

func (r *InMemoryRegistry) GetProductDetail(productID uint32) (ProductDetail, error) {
	detail, ok := r.products[productID]
	if !ok {
		return ProductDetail{}, fmt.Errorf("product %d: %w", productID, ErrUnknownProduct)
	}
	return detail, nil
}

func (r *InMemoryRegistry) GetPayout(token position.TokenID, amount uint64) (position.AssetID, uint64, error) {
	detail, err := r.GetProductDetail(token.ProductID)
	if err != nil {
		return 0, 0, err
	}

	fix, ok := r.fixes[fixKey{ProductID: token.ProductID, Expiry: token.Expiry}]
	if !ok {
		return detail.Product.CollateralID, 0,
			fmt.Errorf("product %d expiry %d: %w", token.ProductID, token.Expiry, ErrNoSettlementPrice)
	}

	// Intrinsic value per unit at the fix, strike-asset terms.
	var intrinsic uint64
	switch {
	case token.Kind.IsCall():
		short := fpmath.SubClamp(fix.Spot, token.ShortStrike)
		var long uint64
		if token.LongStrike > 0 {
			long = fpmath.SubClamp(fix.Spot, token.LongStrike)
		}
		intrinsic = fpmath.SubClamp(short, long)

	case token.Kind.IsPut():
		short := fpmath.SubClamp(token.ShortStrike, fix.Spot)
		var long uint64
		if token.LongStrike > 0 {
			long = fpmath.SubClamp(token.LongStrike, fix.Spot)
		}
		intrinsic = fpmath.SubClamp(short, long)

	default:
		return detail.Product.CollateralID, 0,
			fmt.Errorf("token kind %s has no payout", token.Kind)
	}

	payout := fpmath.MulDiv(amount, intrinsic, fpmath.Unit)
	if fix.FxRate != 0 {
		payout = fpmath.MulDiv(payout, fpmath.Unit, fix.FxRate)
	}
	payout = fpmath.Rescale(payout, fpmath.UnitDecimals, detail.CollateralDecimals)

	return detail.Product.CollateralID, payout, nil
}
