package registry

import (
	"errors"
	"fmt"

	"OptionLedger/internal/position"

	"github.com/google/uuid"
)

// ErrInsufficientVaultBalance means a debit exceeded the holder's vault
// balance.
var ErrInsufficientVaultBalance = errors.New("insufficient vault balance")

// TokenVault is the fungible collateral transfer surface the engine
// settles against: deposits debit the owner, withdrawals and liquidation
// payouts credit the recipient. Implementations fail hard; a returned
// error aborts the enclosing batch.
type TokenVault interface {
	Debit(asset position.AssetID, holder uuid.UUID, amount uint64) error
	Credit(asset position.AssetID, holder uuid.UUID, amount uint64) error
}

// InMemoryVault tracks per-holder balances in process. Serialized by the
// engine like the rest of the state; used for wiring and tests.
type InMemoryVault struct {
	balances map[position.AssetID]map[uuid.UUID]uint64
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{
		balances: make(map[position.AssetID]map[uuid.UUID]uint64),
	}
}

// Fund seeds a holder's balance (test and bootstrap path).
func (v *InMemoryVault) Fund(asset position.AssetID, holder uuid.UUID, amount uint64) {
	v.book(asset)[holder] += amount
}

// Balance reads a holder's current balance.
func (v *InMemoryVault) Balance(asset position.AssetID, holder uuid.UUID) uint64 {
	return v.book(asset)[holder]
}

func (v *InMemoryVault) Debit(asset position.AssetID, holder uuid.UUID, amount uint64) error {
	book := v.book(asset)
	if book[holder] < amount {
		return fmt.Errorf("debit %d of asset %d from %s (balance %d): %w",
			amount, asset, holder, book[holder], ErrInsufficientVaultBalance)
	}
	book[holder] -= amount
	return nil
}

func (v *InMemoryVault) Credit(asset position.AssetID, holder uuid.UUID, amount uint64) error {
	v.book(asset)[holder] += amount
	return nil
}

func (v *InMemoryVault) book(asset position.AssetID) map[uuid.UUID]uint64 {
	book, ok := v.balances[asset]
	if !ok {
		book = make(map[uuid.UUID]uint64)
		v.balances[asset] = book
	}
	return book
}
