package engine

import (
	"OptionLedger/internal/position"
)

// ActionKind selects which ledger mutator an action invokes.
type ActionKind int32

const (
	ActionDeposit ActionKind = iota
	ActionWithdraw
	ActionMint
	ActionBurn
	ActionMerge
	ActionSplit
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeposit:
		return "Deposit"
	case ActionWithdraw:
		return "Withdraw"
	case ActionMint:
		return "Mint"
	case ActionBurn:
		return "Burn"
	case ActionMerge:
		return "Merge"
	case ActionSplit:
		return "Split"
	default:
		return "Unknown"
	}
}

// Action is one step of a submitted batch. Which fields are read depends
// on the kind:
//
//	Deposit   Amount, Asset
//	Withdraw  Amount
//	Mint      Amount, Token
//	Burn      Amount, Token
//	Merge     Amount, Token (short leg), LongToken
//	Split     Amount, Token (spread)
type Action struct {
	Kind      ActionKind
	Amount    uint64
	Asset     position.AssetID
	Token     position.TokenID
	LongToken position.TokenID
}
