package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"OptionLedger/internal/engine"
	"OptionLedger/internal/ledger"
)

// ErrNotFound means the audit trail has no row for the requested key.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the audit tables. The engine
// answers live-state queries from memory; this service serves the
// durable history — journals, snapshots, and the hash chain — so
// external auditors never touch the engine. All responses include
// as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetLatestSequence returns the highest durably persisted sequence, 0
// when the audit trail is empty.
func (qs *QueryService) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM audit.batches`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	return seq.Int64, nil
}

// GetAccountSnapshot returns the last persisted snapshot of an account.
func (qs *QueryService) GetAccountSnapshot(ctx context.Context, key ledger.AccountKey) (*SnapshotResponse, error) {
	var s SnapshotResponse
	err := qs.db.QueryRowContext(ctx, `
		SELECT account_path, sequence, collateral_amount, collateral_asset,
		       short_call_key, short_call_amount, short_put_key, short_put_amount
		FROM audit.account_snapshots
		WHERE account_path = $1
	`, key.AccountPath()).Scan(
		&s.AccountPath, &s.AsOfSequence, &s.CollateralAmt, &s.CollateralAsset,
		&s.ShortCallKey, &s.ShortCallAmt, &s.ShortPutKey, &s.ShortPutAmt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for %s: %w", key.AccountPath(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	return &s, nil
}

// ListJournals returns an account's journal history, oldest first,
// starting after afterSequence.
func (qs *QueryService) ListJournals(
	ctx context.Context,
	key ledger.AccountKey,
	pageSize int,
	afterSequence int64,
) ([]JournalResponse, error) {
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, sequence, account_path, token_key,
		       asset_id, amount, journal_type, timestamp_us
		FROM audit.journal
		WHERE account_path = $1 AND sequence > $2
		ORDER BY sequence, ordinal
		LIMIT $3
	`, key.AccountPath(), afterSequence, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	defer rows.Close()

	var out []JournalResponse
	for rows.Next() {
		var j JournalResponse
		var jt int32
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.Sequence, &j.AccountPath,
			&j.TokenKey, &j.AssetID, &j.Amount, &jt, &j.TimestampUs,
		); err != nil {
			return nil, err
		}
		j.JournalType = ledger.JournalType(jt).String()
		out = append(out, j)
	}
	return out, rows.Err()
}

// VerifyHashChain recomputes the state-hash chain from the persisted
// batches and journals and compares it against the stored hashes. A
// break means the audit trail was mutated after the fact or rows were
// lost.
func (qs *QueryService) VerifyHashChain(ctx context.Context) (*IntegrityReport, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT batch_id, sequence, state_hash, timestamp_us
		FROM audit.batches
		ORDER BY sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	defer rows.Close()

	type batchHead struct {
		batchID   string
		sequence  int64
		stateHash []byte
		timestamp int64
	}
	var heads []batchHead
	for rows.Next() {
		var h batchHead
		if err := rows.Scan(&h.batchID, &h.sequence, &h.stateHash, &h.timestamp); err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report := &IntegrityReport{Passed: true}
	hasher := engine.NewStateHasher()
	expectedSeq := int64(1)

	for _, h := range heads {
		// A sequence gap breaks the chain by construction.
		if h.sequence != expectedSeq {
			report.HashChainBreaks = append(report.HashChainBreaks, h.sequence)
			report.Passed = false
			break
		}
		expectedSeq++

		batch, err := qs.loadBatch(ctx, h.batchID, h.sequence, h.timestamp)
		if err != nil {
			return nil, err
		}

		computed := hasher.ComputeHash(h.sequence, engine.DigestBatch(batch))
		if len(h.stateHash) != len(computed) || string(h.stateHash) != string(computed[:]) {
			report.HashChainBreaks = append(report.HashChainBreaks, h.sequence)
			report.Passed = false
			break
		}
		report.Checked++
	}

	return report, nil
}

func (qs *QueryService) loadBatch(ctx context.Context, batchID string, sequence, timestamp int64) (*ledger.Batch, error) {
	id, err := uuid.Parse(batchID)
	if err != nil {
		return nil, fmt.Errorf("batch %d: bad batch_id %q: %w", sequence, batchID, err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, account_path, token_key, asset_id, amount, journal_type, timestamp_us
		FROM audit.journal
		WHERE batch_id = $1
		ORDER BY ordinal
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("load journals for batch %d: %w", sequence, err)
	}
	defer rows.Close()

	batch := &ledger.Batch{
		BatchID:   id,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
	for rows.Next() {
		var (
			journalID string
			j         ledger.Journal
			jt        int32
			asset     int16
			amount    int64
		)
		if err := rows.Scan(&journalID, &j.AccountPath, &j.TokenKey, &asset, &amount, &jt, &j.Timestamp); err != nil {
			return nil, err
		}
		j.JournalID, err = uuid.Parse(journalID)
		if err != nil {
			return nil, fmt.Errorf("batch %d: bad journal_id %q: %w", sequence, journalID, err)
		}
		j.BatchID = id
		j.Sequence = sequence
		j.AssetID = uint16(asset)
		j.Amount = uint64(amount)
		j.JournalType = ledger.JournalType(jt)
		batch.Journals = append(batch.Journals, j)
	}
	return batch, rows.Err()
}
