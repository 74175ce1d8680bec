package position

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Kind discriminates the instrument encoded in a token id.
type Kind uint8

const (
	KindNone Kind = iota
	KindCall
	KindPut
	KindCallSpread
	KindPutSpread
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindCall:
		return "Call"
	case KindPut:
		return "Put"
	case KindCallSpread:
		return "CallSpread"
	case KindPutSpread:
		return "PutSpread"
	default:
		return "Unknown"
	}
}

// IsCall reports whether the kind settles like a call (plain or spread).
func (k Kind) IsCall() bool {
	return k == KindCall || k == KindCallSpread
}

// IsPut reports whether the kind settles like a put (plain or spread).
func (k Kind) IsPut() bool {
	return k == KindPut || k == KindPutSpread
}

// IsSpread reports whether the kind carries a long leg.
func (k Kind) IsSpread() bool {
	return k == KindCallSpread || k == KindPutSpread
}

// ToSpread maps a plain kind to its spread variant.
func (k Kind) ToSpread() (Kind, error) {
	switch k {
	case KindCall:
		return KindCallSpread, nil
	case KindPut:
		return KindPutSpread, nil
	default:
		return KindNone, fmt.Errorf("kind %s has no spread variant", k)
	}
}

// ToPlain maps a spread kind back to its single-leg variant.
func (k Kind) ToPlain() (Kind, error) {
	switch k {
	case KindCallSpread:
		return KindCall, nil
	case KindPutSpread:
		return KindPut, nil
	default:
		return KindNone, fmt.Errorf("kind %s is not a spread", k)
	}
}

// TokenID identifies one option instrument (or credit spread).
// Strikes and all prices in this package are 6-dp fixed point (fpmath.Unit).
type TokenID struct {
	Kind        Kind
	ProductID   uint32
	Expiry      uint64 // unix seconds
	LongStrike  uint64 // 0 for a plain short
	ShortStrike uint64
}

// Token ids are packed into a single 256-bit integer. Layout (LSB first):
//
//	bits   0..63   shortStrike
//	bits  64..127  longStrike
//	bits 128..191  expiry
//	bits 192..223  productID
//	bits 224..231  kind
//	bits 232..255  zero
//
// Encode and Decode form a bijection over this layout; the zero key is the
// "no position" sentinel.

// Encode packs the token id into its 256-bit key.
func (t TokenID) Encode() uint256.Int {
	var key uint256.Int
	key[0] = t.ShortStrike
	key[1] = t.LongStrike
	key[2] = t.Expiry
	key[3] = uint64(t.ProductID) | uint64(t.Kind)<<32
	return key
}

// Decode unpacks a 256-bit key. The zero key decodes to the zero TokenID.
func Decode(key uint256.Int) TokenID {
	return TokenID{
		Kind:        Kind(key[3] >> 32),
		ProductID:   uint32(key[3]),
		Expiry:      key[2],
		LongStrike:  key[1],
		ShortStrike: key[0],
	}
}

// IsZero reports whether the token id is the "no position" sentinel.
func (t TokenID) IsZero() bool {
	return t == TokenID{}
}

// Validate rejects keys whose kind tag is not a known instrument.
func (t TokenID) Validate() error {
	switch t.Kind {
	case KindCall, KindPut, KindCallSpread, KindPutSpread:
	default:
		return fmt.Errorf("unrecognized instrument kind %d", uint8(t.Kind))
	}
	if t.ShortStrike == 0 {
		return fmt.Errorf("token has zero short strike")
	}
	if t.Kind.IsSpread() && t.LongStrike == 0 {
		return fmt.Errorf("spread token has zero long strike")
	}
	if !t.Kind.IsSpread() && t.LongStrike != 0 {
		return fmt.Errorf("plain token carries a long strike")
	}
	return nil
}

// Or combines two keys field-wise with bitwise OR. Valid only when, per
// slot, at most one of the two keys is non-zero — used to pull the shared
// productID and expiry out of a call/put pair where either leg may be
// absent. Combining two distinct non-zero keys corrupts the strike fields.
func Or(a, b uint256.Int) uint256.Int {
	var out uint256.Int
	out.Or(&a, &b)
	return out
}

func (t TokenID) String() string {
	return fmt.Sprintf("%s/product=%d/expiry=%d/long=%d/short=%d",
		t.Kind, t.ProductID, t.Expiry, t.LongStrike, t.ShortStrike)
}
