package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AuditWriter writes committed batches, journal rows and account
// snapshots to Postgres using multi-row INSERT. Multi-row INSERT is
// portable; switch to pgx CopyFrom if journal volume ever warrants it.
type AuditWriter struct {
	db *sql.DB
}

// BatchRow is a row in audit.batches — one per committed engine
// sequence, carrying the state-hash chain.
type BatchRow struct {
	BatchID   string
	Sequence  int64
	StateHash []byte
	Timestamp int64
}

// JournalRow is a row in audit.journal.
type JournalRow struct {
	JournalID   string
	BatchID     string
	Sequence    int64
	Ordinal     int16 // commit order within the batch
	AccountPath string
	TokenKey    string
	AssetID     int16
	Amount      int64
	JournalType int32
	Timestamp   int64
}

// SnapshotRow mirrors one committed account record in
// audit.account_snapshots for external queries.
type SnapshotRow struct {
	AccountPath     string
	Sequence        int64
	CollateralAmt   int64
	CollateralAsset int16
	ShortCallKey    string
	ShortCallAmt    int64
	ShortPutKey     string
	ShortPutAmt     int64
	Timestamp       int64
}

func NewAuditWriter(db *sql.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// WriteBatches inserts batch header rows. Idempotent on sequence.
func (w *AuditWriter) WriteBatches(ctx context.Context, tx *sql.Tx, batches []BatchRow) error {
	if len(batches) == 0 {
		return nil
	}

	query := `INSERT INTO audit.batches
		(batch_id, sequence, state_hash, timestamp_us)
		VALUES `

	values := make([]string, 0, len(batches))
	args := make([]interface{}, 0, len(batches)*4)
	for i, b := range batches {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4))
		args = append(args, b.BatchID, b.Sequence, b.StateHash, b.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournals inserts journal rows. Idempotent on journal_id.
func (w *AuditWriter) WriteJournals(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO audit.journal
		(journal_id, batch_id, sequence, ordinal, account_path, token_key, asset_id, amount, journal_type, timestamp_us)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)
	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.Sequence, j.Ordinal, j.AccountPath,
			j.TokenKey, j.AssetID, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteSnapshots upserts account snapshots. A stale snapshot (lower
// sequence than the stored row) never overwrites a newer one, so
// redelivered outputs are harmless.
func (w *AuditWriter) WriteSnapshots(ctx context.Context, tx *sql.Tx, snapshots []SnapshotRow) error {
	if len(snapshots) == 0 {
		return nil
	}

	query := `INSERT INTO audit.account_snapshots
		(account_path, sequence, collateral_amount, collateral_asset,
		 short_call_key, short_call_amount, short_put_key, short_put_amount, timestamp_us)
		VALUES `

	values := make([]string, 0, len(snapshots))
	args := make([]interface{}, 0, len(snapshots)*9)
	for i, s := range snapshots {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			s.AccountPath, s.Sequence, s.CollateralAmt, s.CollateralAsset,
			s.ShortCallKey, s.ShortCallAmt, s.ShortPutKey, s.ShortPutAmt, s.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_path) DO UPDATE SET
		sequence = EXCLUDED.sequence,
		collateral_amount = EXCLUDED.collateral_amount,
		collateral_asset = EXCLUDED.collateral_asset,
		short_call_key = EXCLUDED.short_call_key,
		short_call_amount = EXCLUDED.short_call_amount,
		short_put_key = EXCLUDED.short_put_key,
		short_put_amount = EXCLUDED.short_put_amount,
		timestamp_us = EXCLUDED.timestamp_us
	WHERE audit.account_snapshots.sequence < EXCLUDED.sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
