package persistence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"OptionLedger/internal/persistence"
	"OptionLedger/internal/testutil"
)

// Integration test against the docker-compose.test.yml Postgres. Skips
// when the database is unreachable.

func TestAuditWriterIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewAuditWriter(db)
	batchID := uuid.New().String()
	journalID := uuid.New().String()

	batches := []persistence.BatchRow{
		{BatchID: batchID, Sequence: 1, StateHash: []byte{0x01, 0x02}, Timestamp: 1_700_000_000_000_000},
	}
	journals := []persistence.JournalRow{
		{
			JournalID: journalID, BatchID: batchID, Sequence: 1,
			AccountPath: "acct:550e8400-e29b-41d4-a716-446655440000:0",
			AssetID:     1, Amount: 1_000_000, JournalType: 0,
			Timestamp: 1_700_000_000_000_000,
		},
	}
	snapshots := []persistence.SnapshotRow{
		{
			AccountPath: "acct:550e8400-e29b-41d4-a716-446655440000:0",
			Sequence:    1, CollateralAmt: 1_000_000, CollateralAsset: 1,
			Timestamp: 1_700_000_000_000_000,
		},
	}

	write := func() {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := writer.WriteBatches(ctx, tx, batches); err != nil {
			t.Fatalf("write batches: %v", err)
		}
		if err := writer.WriteJournals(ctx, tx, journals); err != nil {
			t.Fatalf("write journals: %v", err)
		}
		if err := writer.WriteSnapshots(ctx, tx, snapshots); err != nil {
			t.Fatalf("write snapshots: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	// Writing the same rows twice mimics a redelivered output and must
	// not error or duplicate.
	write()
	write()

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit.journal WHERE batch_id = $1`, batchID,
	).Scan(&count); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if count != 1 {
		t.Errorf("journal rows: got %d, want 1", count)
	}
}

func TestSnapshotStaleSequenceIgnored(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewAuditWriter(db)
	path := "acct:660e8400-e29b-41d4-a716-446655440001:3"

	upsert := func(seq int64, collateral int64) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		rows := []persistence.SnapshotRow{
			{AccountPath: path, Sequence: seq, CollateralAmt: collateral, CollateralAsset: 1},
		}
		if err := writer.WriteSnapshots(ctx, tx, rows); err != nil {
			t.Fatalf("write snapshots: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	upsert(5, 500)
	upsert(3, 300) // stale, must not win

	var got int64
	if err := db.QueryRowContext(ctx,
		`SELECT collateral_amount FROM audit.account_snapshots WHERE account_path = $1`, path,
	).Scan(&got); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if got != 500 {
		t.Errorf("collateral: got %d, want 500 (sequence 5 row)", got)
	}
}
