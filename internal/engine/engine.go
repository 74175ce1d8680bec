package engine

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"OptionLedger/internal/fpmath"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/margin"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/oracle"
	"OptionLedger/internal/position"
	"OptionLedger/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrAccountHealthy means liquidation was attempted on an account
	// that passes its health check.
	ErrAccountHealthy = errors.New("account healthy")

	// ErrNotExpired means settlement was attempted before expiry.
	ErrNotExpired = errors.New("position not expired")
)

// Output is one committed state transition handed to the write-behind
// persistence pipeline.
type Output struct {
	Batch     *ledger.Batch
	Accounts  []AccountSnapshot
	StateHash [32]byte
}

// AccountSnapshot mirrors one committed account record for the external
// projection table.
type AccountSnapshot struct {
	Path     string
	Account  ledger.Account
	Sequence int64
}

// Config wires the engine's collaborators.
type Config struct {
	// Governance may update product margin parameters.
	Governance uuid.UUID
	// Registry may draw on settlement reserves via PayCashValue.
	Registry uuid.UUID

	Params   *margin.ParamsManager
	Products registry.ProductRegistry
	Vault    registry.TokenVault
	Spot     oracle.SpotOracle
	Vol      oracle.VolOracle

	Metrics *observability.Metrics
	// PersistChan receives committed outputs; nil disables the audit
	// pipeline (tests).
	PersistChan chan<- Output
	// Clock overrides time.Now (tests). Settlement and margin expiry
	// checks read it.
	Clock func() time.Time
}

// Engine is the access-controlled orchestrator over the account store.
// One mutex serializes every entry point, so each call runs to
// completion against a consistent state — collaborators invoked during a
// call (vault, registry) must not call back into the engine.
type Engine struct {
	mu sync.Mutex

	store    *ledger.AccountStore
	params   *margin.ParamsManager
	products registry.ProductRegistry
	vault    registry.TokenVault
	spot     oracle.SpotOracle
	vol      oracle.VolOracle

	governance uuid.UUID
	registryID uuid.UUID
	delegates  map[uuid.UUID]map[uuid.UUID]bool

	// reserves holds collateral withheld at settlement, paid out to
	// long holders through PayCashValue.
	reserves map[position.AssetID]uint64

	sequence int64
	hasher   *StateHasher

	metrics     *observability.Metrics
	logger      zerolog.Logger
	persistChan chan<- Output
	now         func() time.Time
}

func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:       ledger.NewAccountStore(),
		params:      cfg.Params,
		products:    cfg.Products,
		vault:       cfg.Vault,
		spot:        cfg.Spot,
		vol:         cfg.Vol,
		governance:  cfg.Governance,
		registryID:  cfg.Registry,
		delegates:   make(map[uuid.UUID]map[uuid.UUID]bool),
		reserves:    make(map[position.AssetID]uint64),
		hasher:      NewStateHasher(),
		metrics:     cfg.Metrics,
		logger:      observability.NewLogger("engine"),
		persistChan: cfg.PersistChan,
		now:         clock,
	}
}

// ============================================================================
// Access control
// ============================================================================

// SetAccountAccess grants or revokes the delegate's right to act on all
// of the owner's sub-accounts. Only the owner themselves can change it,
// which is why the owner is the caller.
func (e *Engine) SetAccountAccess(owner, delegate uuid.UUID, allowed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.delegates[owner]
	if !ok {
		if !allowed {
			return
		}
		set = make(map[uuid.UUID]bool)
		e.delegates[owner] = set
	}

	if allowed {
		set[delegate] = true
	} else {
		delete(set, delegate)
	}
}

func (e *Engine) authorize(caller uuid.UUID, owner uuid.UUID) error {
	if caller == owner {
		return nil
	}
	if e.delegates[owner][caller] {
		return nil
	}
	return fmt.Errorf("caller %s not authorized for owner %s: %w",
		caller, owner, ledger.ErrAccessDenied)
}

// ============================================================================
// Batch execution
// ============================================================================

// Execute applies an ordered batch of actions to one account. The batch
// is staged on a copy, health-checked as a whole, and committed only if
// the final state is solvent — intermediate states may be transiently
// under-collateralized. On any failure the stored account is untouched.
func (e *Engine) Execute(caller uuid.UUID, key ledger.AccountKey, actions []Action) error {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize(caller, key.Owner); err != nil {
		e.reject("access_denied")
		return err
	}
	if len(actions) == 0 {
		e.reject("empty_batch")
		return fmt.Errorf("empty action batch")
	}

	staged := e.store.Get(key)

	var (
		journals      []ledger.Journal
		depositTotal  = map[position.AssetID]uint64{}
		withdrawTotal = map[position.AssetID]uint64{}
	)

	for i, act := range actions {
		if act.Amount == 0 {
			e.reject("zero_amount")
			return fmt.Errorf("action %d (%s): zero amount: %w", i, act.Kind, ledger.ErrInvalidPosition)
		}

		var (
			err     error
			jt      ledger.JournalType
			asset   position.AssetID
			tokenID position.TokenID
		)

		switch act.Kind {
		case ActionDeposit:
			err = staged.AddCollateral(act.Amount, act.Asset)
			jt, asset = ledger.JournalTypeDeposit, act.Asset
			if err == nil {
				depositTotal[act.Asset] += act.Amount
			}

		case ActionWithdraw:
			asset = staged.CollateralID
			err = staged.RemoveCollateral(act.Amount)
			jt = ledger.JournalTypeWithdrawal
			if err == nil {
				withdrawTotal[asset] += act.Amount
			}

		case ActionMint:
			err = staged.MintOption(act.Token, act.Amount)
			jt, tokenID = ledger.JournalTypeMint, act.Token

		case ActionBurn:
			err = staged.BurnOption(act.Token, act.Amount)
			jt, tokenID = ledger.JournalTypeBurn, act.Token

		case ActionMerge:
			err = staged.Merge(act.Token, act.LongToken, act.Amount)
			jt, tokenID = ledger.JournalTypeMerge, act.Token

		case ActionSplit:
			err = staged.Split(act.Token, act.Amount)
			jt, tokenID = ledger.JournalTypeSplit, act.Token

		default:
			err = fmt.Errorf("unknown action kind %d: %w", act.Kind, ledger.ErrInvalidPosition)
		}

		if err != nil {
			e.reject("mutator")
			return fmt.Errorf("action %d (%s): %w", i, act.Kind, err)
		}

		journals = append(journals, e.buildJournal(key, jt, asset, tokenID, act.Amount))
	}

	// Deferred health check over the final state.
	if err := e.checkHealth(&staged); err != nil {
		e.reject(rejectReason(err))
		return err
	}

	// External transfers, deposits first so a vault shortfall still
	// aborts before anything is visible.
	for asset, amount := range depositTotal {
		if err := e.vault.Debit(asset, key.Owner, amount); err != nil {
			e.reject("vault")
			return fmt.Errorf("deposit transfer: %w", err)
		}
	}
	for asset, amount := range withdrawTotal {
		if err := e.vault.Credit(asset, key.Owner, amount); err != nil {
			// Refund the deposits so the abort leaves the vault whole.
			for dAsset, dAmount := range depositTotal {
				e.vault.Credit(dAsset, key.Owner, dAmount)
			}
			e.reject("vault")
			return fmt.Errorf("withdrawal transfer: %w", err)
		}
	}

	e.store.Put(key, staged)
	e.commit(journals)

	if e.metrics != nil {
		e.metrics.BatchesExecuted.WithLabelValues("user").Inc()
		e.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		e.metrics.AccountsTracked.Set(float64(e.store.Len()))
	}
	e.logger.Info().
		Str("account", key.AccountPath()).
		Int("actions", len(actions)).
		Int64("sequence", e.sequence).
		Msg("batch committed")

	return nil
}

// ============================================================================
// Health & margin reads
// ============================================================================

// GetAccount returns the committed account record.
func (e *Engine) GetAccount(key ledger.AccountKey) ledger.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(key)
}

// GetMinCollateral computes the current minimum collateral for an
// account, in its collateral asset's native decimals.
func (e *Engine) GetMinCollateral(key ledger.AccountKey) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.store.Get(key)
	return e.minCollateralFor(&acct)
}

// IsAccountHealthy reports whether collateral covers the current minimum.
func (e *Engine) IsAccountHealthy(key ledger.AccountKey) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.store.Get(key)
	min, err := e.minCollateralFor(&acct)
	if err != nil {
		return false, err
	}
	return acct.CollateralAmount >= min, nil
}

func (e *Engine) checkHealth(acct *ledger.Account) error {
	min, err := e.minCollateralFor(acct)
	if err != nil {
		return err
	}
	if acct.CollateralAmount < min {
		return fmt.Errorf("collateral %d below minimum %d: %w",
			acct.CollateralAmount, min, ledger.ErrAccountUnderwater)
	}
	return nil
}

func (e *Engine) minCollateralFor(acct *ledger.Account) (uint64, error) {
	start := time.Now()

	detail := acct.MarginDetail()
	if detail.ProductID == 0 {
		return 0, nil
	}

	params, ok := e.params.Get(detail.ProductID)
	if !ok {
		return 0, fmt.Errorf("no margin params for product %d", detail.ProductID)
	}

	prodDetail, err := e.products.GetProductDetail(detail.ProductID)
	if err != nil {
		return 0, err
	}
	prod := prodDetail.Product

	// Collateral held in a different asset than the product settles in
	// cannot back the position.
	if acct.CollateralAmount > 0 && acct.CollateralID != prod.CollateralID {
		return 0, fmt.Errorf("position settles in asset %d, collateral held in %d: %w",
			prod.CollateralID, acct.CollateralID, ledger.ErrWrongCollateralAsset)
	}

	spot, err := e.spot.GetSpotPrice(prod.UnderlyingID, prod.StrikeID)
	if err != nil {
		return 0, err
	}
	vol, err := e.vol.GetImpliedVol(prod.UnderlyingID)
	if err != nil {
		return 0, err
	}
	fxRate, err := e.spot.GetSpotPrice(prod.CollateralID, prod.StrikeID)
	if err != nil {
		return 0, err
	}

	min := margin.MinCollateral(detail, params, margin.MarketInputs{
		Spot:               spot,
		Vol:                vol,
		FxRate:             fxRate,
		CollateralDecimals: prodDetail.CollateralDecimals,
		Now:                uint64(e.now().Unix()),
	})

	if e.metrics != nil {
		e.metrics.MarginCheckDur.Observe(time.Since(start).Seconds())
	}
	return min, nil
}

// ============================================================================
// Liquidation
// ============================================================================

// Liquidate lets anyone unwind part of an unhealthy account. The
// liquidator repays short debt; both held legs must be repaid in the
// same proportion, and that proportion of collateral is released to the
// liquidator. The reduced account is persisted without a fresh health
// check — partial liquidation must not require the liquidator to supply
// collateral.
func (e *Engine) Liquidate(caller uuid.UUID, key ledger.AccountKey, tokens [2]position.TokenID, amounts [2]uint64) (position.AssetID, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	staged := e.store.Get(key)

	min, err := e.minCollateralFor(&staged)
	if err != nil {
		e.liquidationOutcome("error")
		return 0, 0, err
	}
	if staged.CollateralAmount >= min {
		e.liquidationOutcome("healthy")
		return 0, 0, fmt.Errorf("account %s: %w", key.AccountPath(), ErrAccountHealthy)
	}

	var repayCall, repayPut uint64
	for i := range tokens {
		if amounts[i] == 0 {
			continue
		}
		switch {
		case tokens[i].Kind.IsCall():
			// One entry per leg; a duplicate would desync the repay
			// proportion from the amount actually burned.
			if repayCall != 0 {
				e.liquidationOutcome("rejected")
				return 0, 0, fmt.Errorf("call leg repaid twice: %w", ledger.ErrWrongLiquidationRepayment)
			}
			repayCall = amounts[i]
			k := tokens[i].Encode()
			if staged.ShortCallID.IsZero() || !staged.ShortCallID.Eq(&k) {
				e.liquidationOutcome("rejected")
				return 0, 0, fmt.Errorf("call leg not held: %w", ledger.ErrWrongLiquidationRepayment)
			}
		case tokens[i].Kind.IsPut():
			if repayPut != 0 {
				e.liquidationOutcome("rejected")
				return 0, 0, fmt.Errorf("put leg repaid twice: %w", ledger.ErrWrongLiquidationRepayment)
			}
			repayPut = amounts[i]
			k := tokens[i].Encode()
			if staged.ShortPutID.IsZero() || !staged.ShortPutID.Eq(&k) {
				e.liquidationOutcome("rejected")
				return 0, 0, fmt.Errorf("put leg not held: %w", ledger.ErrWrongLiquidationRepayment)
			}
		default:
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("token %d has no instrument kind: %w", i, ledger.ErrWrongLiquidationRepayment)
		}
	}

	// Both held legs must be repaid, in equal basis-point proportion:
	// repayCall/shortCall == repayPut/shortPut, compared exactly by
	// cross-multiplication.
	holdsCall := staged.ShortCallAmount > 0
	holdsPut := staged.ShortPutAmount > 0
	switch {
	case holdsCall && holdsPut:
		if repayCall == 0 || repayPut == 0 {
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("both legs must be repaid: %w", ledger.ErrWrongLiquidationRepayment)
		}
		if !sameProportion(repayCall, staged.ShortCallAmount, repayPut, staged.ShortPutAmount) {
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("repay proportions differ across legs: %w", ledger.ErrWrongLiquidationRepayment)
		}
	case holdsCall:
		if repayCall == 0 || repayPut != 0 {
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("account is short the call leg only: %w", ledger.ErrWrongLiquidationRepayment)
		}
	case holdsPut:
		if repayPut == 0 || repayCall != 0 {
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("account is short the put leg only: %w", ledger.ErrWrongLiquidationRepayment)
		}
	default:
		e.liquidationOutcome("rejected")
		return 0, 0, fmt.Errorf("account has no short exposure: %w", ledger.ErrWrongLiquidationRepayment)
	}

	// Proportional collateral release, computed before the burn.
	var released uint64
	if holdsCall {
		released = fpmath.MulDiv(staged.CollateralAmount, repayCall, staged.ShortCallAmount)
	} else {
		released = fpmath.MulDiv(staged.CollateralAmount, repayPut, staged.ShortPutAmount)
	}
	collateralAsset := staged.CollateralID

	var journals []ledger.Journal
	for i := range tokens {
		if amounts[i] == 0 {
			continue
		}
		if err := staged.BurnOption(tokens[i], amounts[i]); err != nil {
			e.liquidationOutcome("rejected")
			return 0, 0, fmt.Errorf("repay burn: %v: %w", err, ledger.ErrWrongLiquidationRepayment)
		}
		journals = append(journals, e.buildJournal(key, ledger.JournalTypeBurn, 0, tokens[i], amounts[i]))
	}
	if released > 0 {
		if err := staged.RemoveCollateral(released); err != nil {
			return 0, 0, fmt.Errorf("release collateral: %w", err)
		}
		journals = append(journals, e.buildJournal(key, ledger.JournalTypeLiquidationPayout, collateralAsset, position.TokenID{}, released))
	}

	e.store.Put(key, staged)
	e.commit(journals)

	if released > 0 {
		e.vault.Credit(collateralAsset, caller, released)
	}

	e.liquidationOutcome("completed")
	if e.metrics != nil {
		e.metrics.LiquidationCollateral.Add(float64(released))
		e.metrics.AccountsTracked.Set(float64(e.store.Len()))
	}
	e.logger.Info().
		Str("account", key.AccountPath()).
		Str("liquidator", caller.String()).
		Uint64("repay_call", repayCall).
		Uint64("repay_put", repayPut).
		Uint64("released", released).
		Msg("liquidation committed")

	return collateralAsset, released, nil
}

// sameProportion reports whether a/b == c/d exactly, by 128-bit
// cross-multiplication.
func sameProportion(a, b, c, d uint64) bool {
	hi1, lo1 := bits.Mul64(a, d)
	hi2, lo2 := bits.Mul64(c, b)
	return hi1 == hi2 && lo1 == lo2
}

func (e *Engine) liquidationOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.LiquidationsTotal.WithLabelValues(outcome).Inc()
	}
}

// ============================================================================
// Settlement
// ============================================================================

// SettleExpiry winds down an account at or after expiry: the payout owed
// to long holders is valued through the registry, reserved out of
// collateral (clamped at zero on shortfall — a realized loss, not a
// failure), and both short positions are cleared. Callable by anyone.
func (e *Engine) SettleExpiry(key ledger.AccountKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	staged := e.store.Get(key)
	expiry := staged.Expiry()
	if expiry == 0 {
		return fmt.Errorf("account %s has no short exposure: %w", key.AccountPath(), ledger.ErrInvalidPosition)
	}
	if uint64(e.now().Unix()) < expiry {
		return fmt.Errorf("expiry %d not reached: %w", expiry, ErrNotExpired)
	}

	var payout uint64
	var payoutAsset position.AssetID
	if !staged.ShortCallID.IsZero() {
		asset, p, err := e.products.GetPayout(position.Decode(staged.ShortCallID), staged.ShortCallAmount)
		if err != nil {
			return fmt.Errorf("value call leg: %w", err)
		}
		payout += p
		payoutAsset = asset
	}
	if !staged.ShortPutID.IsZero() {
		asset, p, err := e.products.GetPayout(position.Decode(staged.ShortPutID), staged.ShortPutAmount)
		if err != nil {
			return fmt.Errorf("value put leg: %w", err)
		}
		payout += p
		payoutAsset = asset
	}

	reserved := payout
	if reserved > staged.CollateralAmount {
		reserved = staged.CollateralAmount
		if e.metrics != nil {
			e.metrics.SettlementShortfall.Add(float64(payout - reserved))
		}
	}

	staged.SettleAtExpiry(reserved)
	e.store.Put(key, staged)

	var journals []ledger.Journal
	if reserved > 0 {
		e.reserves[payoutAsset] += reserved
		journals = append(journals, e.buildJournal(key, ledger.JournalTypeSettleReserve, payoutAsset, position.TokenID{}, reserved))
	}
	e.commit(journals)

	if e.metrics != nil {
		e.metrics.SettlementsTotal.Inc()
		e.metrics.AccountsTracked.Set(float64(e.store.Len()))
	}
	e.logger.Info().
		Str("account", key.AccountPath()).
		Uint64("payout", payout).
		Uint64("reserved", reserved).
		Msg("settlement committed")

	return nil
}

// PayCashValue pays settlement reserves out to a long holder. Restricted
// to the registry identity; draws down the reserve pool.
func (e *Engine) PayCashValue(caller uuid.UUID, asset position.AssetID, recipient uuid.UUID, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.registryID {
		return fmt.Errorf("cash payouts are registry-only: %w", ledger.ErrAccessDenied)
	}
	if e.reserves[asset] < amount {
		return fmt.Errorf("payout %d exceeds reserve %d of asset %d: %w",
			amount, e.reserves[asset], asset, ledger.ErrArithmeticUnderflow)
	}

	if err := e.vault.Credit(asset, recipient, amount); err != nil {
		return fmt.Errorf("cash payout transfer: %w", err)
	}
	e.reserves[asset] -= amount

	e.logger.Info().
		Str("recipient", recipient.String()).
		Uint64("amount", amount).
		Msg("cash value paid")
	return nil
}

// ============================================================================
// Transfer & governance
// ============================================================================

// TransferAccount moves an account record to an empty slot, clearing the
// source. Both slots may belong to different owners; only the source
// owner (or a delegate) may initiate.
func (e *Engine) TransferAccount(caller uuid.UUID, from, to ledger.AccountKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize(caller, from.Owner); err != nil {
		return err
	}

	target := e.store.Get(to)
	if !target.IsEmpty() {
		return fmt.Errorf("target %s occupied: %w", to.AccountPath(), ledger.ErrAccountNotEmpty)
	}

	source := e.store.Get(from)
	e.store.Put(to, source)
	e.store.Delete(from)
	e.commit(nil)

	e.logger.Info().
		Str("from", from.AccountPath()).
		Str("to", to.AccountPath()).
		Msg("account transferred")
	return nil
}

// SetProductMarginConfig updates a product's margin curve. Governance
// only; takes effect immediately for every account on the product.
func (e *Engine) SetProductMarginConfig(caller uuid.UUID, params margin.ProductParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.governance {
		return fmt.Errorf("margin config is governance-only: %w", ledger.ErrAccessDenied)
	}
	if err := e.params.Update(&params); err != nil {
		return err
	}

	e.logger.Info().
		Uint32("product", params.ProductID).
		Uint64("r_upper", params.RUpper).
		Uint64("r_lower", params.RLower).
		Uint64("vol_mul", params.VolMul).
		Msg("margin config updated")
	return nil
}

// ============================================================================
// Commit plumbing
// ============================================================================

func (e *Engine) buildJournal(key ledger.AccountKey, jt ledger.JournalType, asset position.AssetID, token position.TokenID, amount uint64) ledger.Journal {
	var tokenKey string
	if !token.IsZero() {
		k := token.Encode()
		tokenKey = k.Hex()
	}
	return ledger.Journal{
		JournalID:   uuid.New(),
		AccountPath: key.AccountPath(),
		TokenKey:    tokenKey,
		AssetID:     uint16(asset),
		Amount:      amount,
		JournalType: jt,
		Timestamp:   e.now().UnixMicro(),
	}
}

// commit advances the sequence, extends the hash chain, and hands the
// transition to the persistence pipeline.
func (e *Engine) commit(journals []ledger.Journal) {
	e.sequence++

	batch := &ledger.Batch{
		BatchID:   uuid.New(),
		Sequence:  e.sequence,
		Timestamp: e.now().UnixMicro(),
		Journals:  journals,
	}
	for i := range batch.Journals {
		batch.Journals[i].BatchID = batch.BatchID
		batch.Journals[i].Sequence = e.sequence
	}

	start := time.Now()
	digest := DigestBatch(batch)
	hash := e.hasher.ComputeHash(e.sequence, digest)
	if e.metrics != nil {
		e.metrics.StateHashDuration.Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}

	if e.persistChan != nil {
		snapshots := make([]AccountSnapshot, 0, len(batch.Journals))
		seen := make(map[string]bool)
		for _, j := range batch.Journals {
			if seen[j.AccountPath] {
				continue
			}
			seen[j.AccountPath] = true
			if acctKey, err := ledger.ParseAccountPath(j.AccountPath); err == nil {
				snapshots = append(snapshots, AccountSnapshot{
					Path:     j.AccountPath,
					Account:  e.store.Get(acctKey),
					Sequence: e.sequence,
				})
			}
		}
		out := Output{Batch: batch, Accounts: snapshots, StateHash: hash}
		select {
		case e.persistChan <- out:
		default:
			// Full channel: block rather than drop, and count the stall.
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
}

// DigestBatch folds the batch's journals into a deterministic byte
// digest for the hash chain. Audit verification recomputes the chain
// from persisted rows with the same layout.
func DigestBatch(batch *ledger.Batch) []byte {
	buf := make([]byte, 0, 64+len(batch.Journals)*64)
	buf = append(buf, batch.BatchID[:]...)
	for _, j := range batch.Journals {
		buf = append(buf, j.JournalID[:]...)
		buf = append(buf, []byte(j.AccountPath)...)
		buf = append(buf, []byte(j.TokenKey)...)
		buf = appendUint64LE(buf, j.Amount)
		buf = appendUint64LE(buf, uint64(j.JournalType))
		buf = appendUint64LE(buf, uint64(j.AssetID))
	}
	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.BatchesRejected.WithLabelValues(reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAccountUnderwater):
		return "underwater"
	case errors.Is(err, ledger.ErrWrongCollateralAsset):
		return "wrong_collateral"
	default:
		return "market_data"
	}
}

// Sequence returns the last committed engine sequence.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current hash-chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// ReserveBalance reads the settlement reserve pool for an asset.
func (e *Engine) ReserveBalance(asset position.AssetID) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves[asset]
}
