package ledger

import (
	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/margin"
	"OptionLedger/internal/position"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Account is one margin account: a single-asset collateral balance plus
// at most one short call key and one short put key. Both keys, when
// present, share the same product and expiry — the mutators enforce it.
//
// Account is a plain value; assignment copies it, which is how the
// engine stages a batch before committing.
type Account struct {
	CollateralAmount uint64 // collateral asset native decimals
	CollateralID     position.AssetID

	ShortCallID     uint256.Int // encoded token key; zero = no call
	ShortCallAmount uint64      // 6-dp fixed point

	ShortPutID     uint256.Int
	ShortPutAmount uint64
}

// IsEmpty reports whether the account is fully unwound (the implicit
// zero-valued state). Value receiver: Account is a copyable value type
// and callers check function results directly.
func (a Account) IsEmpty() bool {
	return a.CollateralAmount == 0 &&
		a.ShortCallID.IsZero() &&
		a.ShortPutID.IsZero()
}

// AddCollateral credits collateral. The first deposit pins the
// collateral asset; depositing a different asset while a balance remains
// is rejected.
func (a *Account) AddCollateral(amount uint64, assetID position.AssetID) error {
	if a.CollateralAmount > 0 && a.CollateralID != assetID {
		return fmt.Errorf("account holds asset %d, deposit of %d: %w",
			a.CollateralID, assetID, ErrWrongCollateralAsset)
	}

	a.CollateralID = assetID
	a.CollateralAmount += amount
	return nil
}

// RemoveCollateral debits collateral. Over-withdrawal is a hard failure,
// never a clamp.
func (a *Account) RemoveCollateral(amount uint64) error {
	if amount > a.CollateralAmount {
		return fmt.Errorf("remove %d exceeds balance %d: %w",
			amount, a.CollateralAmount, ErrArithmeticUnderflow)
	}

	a.CollateralAmount -= amount
	if a.CollateralAmount == 0 {
		a.CollateralID = 0
	}
	return nil
}

// MintOption records new short exposure under the given token key. The
// key must land in an empty slot of its kind or match the existing key
// exactly.
func (a *Account) MintOption(token position.TokenID, amount uint64) error {
	if err := token.Validate(); err != nil {
		return fmt.Errorf("mint: %v: %w", err, ErrInvalidPosition)
	}
	// A zero-amount mint would pin a key to an empty slot, breaking the
	// amount == 0 iff key == 0 invariant.
	if amount == 0 {
		return fmt.Errorf("mint: zero amount: %w", ErrInvalidPosition)
	}

	key := token.Encode()

	switch {
	case token.Kind.IsCall():
		if a.ShortCallID.IsZero() {
			if err := a.checkSharedProduct(token, a.ShortPutID); err != nil {
				return err
			}
			a.ShortCallID = key
		} else if !a.ShortCallID.Eq(&key) {
			return fmt.Errorf("mint: conflicting call key: %w", ErrInvalidPosition)
		}
		if a.ShortCallAmount > math.MaxUint64-amount {
			return fmt.Errorf("mint: call amount overflow: %w", ErrInvalidPosition)
		}
		a.ShortCallAmount += amount

	case token.Kind.IsPut():
		if a.ShortPutID.IsZero() {
			if err := a.checkSharedProduct(token, a.ShortCallID); err != nil {
				return err
			}
			a.ShortPutID = key
		} else if !a.ShortPutID.Eq(&key) {
			return fmt.Errorf("mint: conflicting put key: %w", ErrInvalidPosition)
		}
		if a.ShortPutAmount > math.MaxUint64-amount {
			return fmt.Errorf("mint: put amount overflow: %w", ErrInvalidPosition)
		}
		a.ShortPutAmount += amount

	default:
		return fmt.Errorf("mint: kind %s: %w", token.Kind, ErrInvalidPosition)
	}

	return nil
}

// checkSharedProduct enforces that a new leg shares product and expiry
// with the other leg, if the other leg exists.
func (a *Account) checkSharedProduct(token position.TokenID, other uint256.Int) error {
	if other.IsZero() {
		return nil
	}
	existing := position.Decode(other)
	if existing.ProductID != token.ProductID || existing.Expiry != token.Expiry {
		return fmt.Errorf("mint: legs must share product and expiry: %w", ErrInvalidPosition)
	}
	return nil
}

// BurnOption unwinds short exposure. The key must match the held key of
// its kind; burning more than held is a hard failure.
func (a *Account) BurnOption(token position.TokenID, amount uint64) error {
	key := token.Encode()

	switch {
	case token.Kind.IsCall():
		if a.ShortCallID.IsZero() || !a.ShortCallID.Eq(&key) {
			return fmt.Errorf("burn: call key mismatch: %w", ErrInvalidPosition)
		}
		if amount > a.ShortCallAmount {
			return fmt.Errorf("burn %d exceeds call amount %d: %w",
				amount, a.ShortCallAmount, ErrArithmeticUnderflow)
		}
		a.ShortCallAmount -= amount
		if a.ShortCallAmount == 0 {
			a.ShortCallID.Clear()
		}

	case token.Kind.IsPut():
		if a.ShortPutID.IsZero() || !a.ShortPutID.Eq(&key) {
			return fmt.Errorf("burn: put key mismatch: %w", ErrInvalidPosition)
		}
		if amount > a.ShortPutAmount {
			return fmt.Errorf("burn %d exceeds put amount %d: %w",
				amount, a.ShortPutAmount, ErrArithmeticUnderflow)
		}
		a.ShortPutAmount -= amount
		if a.ShortPutAmount == 0 {
			a.ShortPutID.Clear()
		}

	default:
		return fmt.Errorf("burn: kind %s: %w", token.Kind, ErrInvalidPosition)
	}

	return nil
}

// Merge absorbs a long leg into the matching short position, replacing
// the plain key with the spread-encoded key. The long token must be the
// same plain kind, product and expiry, with a distinct strike, and must
// cover the whole short amount.
func (a *Account) Merge(short, long position.TokenID, amount uint64) error {
	if short.Kind.IsSpread() || long.Kind.IsSpread() {
		return fmt.Errorf("merge: legs must be plain shorts: %w", ErrInvalidPosition)
	}
	if short.Kind != long.Kind || short.ProductID != long.ProductID || short.Expiry != long.Expiry {
		return fmt.Errorf("merge: legs must share kind, product and expiry: %w", ErrInvalidPosition)
	}
	if short.ShortStrike == long.ShortStrike {
		return fmt.Errorf("merge: long strike equals short strike: %w", ErrInvalidPosition)
	}

	spreadKind, err := short.Kind.ToSpread()
	if err != nil {
		return fmt.Errorf("merge: %v: %w", err, ErrInvalidPosition)
	}

	spread := position.TokenID{
		Kind:        spreadKind,
		ProductID:   short.ProductID,
		Expiry:      short.Expiry,
		LongStrike:  long.ShortStrike,
		ShortStrike: short.ShortStrike,
	}

	key := short.Encode()
	switch {
	case short.Kind.IsCall():
		if a.ShortCallID.IsZero() || !a.ShortCallID.Eq(&key) {
			return fmt.Errorf("merge: call key mismatch: %w", ErrInvalidPosition)
		}
		if amount != a.ShortCallAmount {
			return fmt.Errorf("merge: amount %d must cover whole call position %d: %w",
				amount, a.ShortCallAmount, ErrInvalidPosition)
		}
		a.ShortCallID = spread.Encode()

	default:
		if a.ShortPutID.IsZero() || !a.ShortPutID.Eq(&key) {
			return fmt.Errorf("merge: put key mismatch: %w", ErrInvalidPosition)
		}
		if amount != a.ShortPutAmount {
			return fmt.Errorf("merge: amount %d must cover whole put position %d: %w",
				amount, a.ShortPutAmount, ErrInvalidPosition)
		}
		a.ShortPutID = spread.Encode()
	}

	return nil
}

// Split reverts a spread back to a plain short, dropping the long-leg
// strike. Amount is unchanged; the caller receives the long tokens back.
func (a *Account) Split(spread position.TokenID, amount uint64) error {
	plainKind, err := spread.Kind.ToPlain()
	if err != nil {
		return fmt.Errorf("split: %v: %w", err, ErrInvalidPosition)
	}

	plain := position.TokenID{
		Kind:        plainKind,
		ProductID:   spread.ProductID,
		Expiry:      spread.Expiry,
		ShortStrike: spread.ShortStrike,
	}

	key := spread.Encode()
	switch {
	case spread.Kind.IsCall():
		if a.ShortCallID.IsZero() || !a.ShortCallID.Eq(&key) {
			return fmt.Errorf("split: call key mismatch: %w", ErrInvalidPosition)
		}
		if amount != a.ShortCallAmount {
			return fmt.Errorf("split: amount %d must cover whole call position %d: %w",
				amount, a.ShortCallAmount, ErrInvalidPosition)
		}
		a.ShortCallID = plain.Encode()

	default:
		if a.ShortPutID.IsZero() || !a.ShortPutID.Eq(&key) {
			return fmt.Errorf("split: put key mismatch: %w", ErrInvalidPosition)
		}
		if amount != a.ShortPutAmount {
			return fmt.Errorf("split: amount %d must cover whole put position %d: %w",
				amount, a.ShortPutAmount, ErrInvalidPosition)
		}
		a.ShortPutID = plain.Encode()
	}

	return nil
}

// SettleAtExpiry reserves the expiry payout out of collateral and clears
// both short positions. Runs only at or after expiry as part of the
// forced wind-down; the deduction clamps at zero rather than failing so a
// shortfall cannot strand long holders' payouts.
func (a *Account) SettleAtExpiry(reservedPayout uint64) {
	a.CollateralAmount = fpmath.SubClamp(a.CollateralAmount, reservedPayout)
	if a.CollateralAmount == 0 {
		a.CollateralID = 0
	}

	a.ShortCallID.Clear()
	a.ShortCallAmount = 0
	a.ShortPutID.Clear()
	a.ShortPutAmount = 0
}

// MarginDetail decodes the account into the calculator's projection.
// The shared product and expiry are extracted by OR-ing the two keys,
// which is sound because the mutators guarantee both legs agree on those
// fields (and OR with a zero key is the identity).
func (a *Account) MarginDetail() margin.Detail {
	if a.ShortCallID.IsZero() && a.ShortPutID.IsZero() {
		return margin.Detail{}
	}

	common := position.Decode(position.Or(a.ShortCallID, a.ShortPutID))
	d := margin.Detail{
		ProductID: common.ProductID,
		Expiry:    common.Expiry,
	}

	if !a.ShortCallID.IsZero() {
		call := position.Decode(a.ShortCallID)
		d.CallAmount = a.ShortCallAmount
		d.CallShortStrike = call.ShortStrike
		d.CallLongStrike = call.LongStrike
	}
	if !a.ShortPutID.IsZero() {
		put := position.Decode(a.ShortPutID)
		d.PutAmount = a.ShortPutAmount
		d.PutShortStrike = put.ShortStrike
		d.PutLongStrike = put.LongStrike
	}

	return d
}

// Expiry returns the shared expiry of the short legs, or 0 when flat.
func (a *Account) Expiry() uint64 {
	return position.Decode(position.Or(a.ShortCallID, a.ShortPutID)).Expiry
}
