package ledger

import "errors"

// Engine failure taxonomy. Every rejection maps onto exactly one of these
// so integrators can branch with errors.Is; call sites wrap with %w to add
// context.
var (
	// ErrAccessDenied: caller is neither the account owner, an
	// owner-authorized delegate, the registry, nor governance.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidPosition: token key mismatch, unrecognized instrument
	// kind, or merge/split on incompatible legs.
	ErrInvalidPosition = errors.New("invalid position token")

	// ErrArithmeticUnderflow: removing or burning more than held. Never
	// silently clamped for user-controlled collateral/debt operations.
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")

	// ErrAccountUnderwater: post-batch health check failed.
	ErrAccountUnderwater = errors.New("account under water")

	// ErrAccountNotEmpty: transfer target already holds state.
	ErrAccountNotEmpty = errors.New("account not empty")

	// ErrWrongLiquidationRepayment: repay proportions differ across legs,
	// or a leg the account does not hold.
	ErrWrongLiquidationRepayment = errors.New("wrong liquidation repayment")

	// ErrWrongCollateralAsset: deposit of a second collateral asset while
	// a balance in another asset remains.
	ErrWrongCollateralAsset = errors.New("wrong collateral asset")
)
