package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"OptionLedger/internal/engine"
	"OptionLedger/internal/observability"
)

// AuditWorker drains the engine's persist channel and batch-writes the
// audit trail to Postgres. The engine sends blocking, so a stalled
// worker backpressures the engine instead of losing committed batches.
type AuditWorker struct {
	writer       *AuditWriter
	inputChan    <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewAuditWorker(
	db *sql.DB,
	inputChan <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *AuditWorker {
	return &AuditWorker{
		writer:       NewAuditWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timeout expires. Blocks until ctx is cancelled or the channel
// closes; flushes the tail either way.
func (w *AuditWorker) Run(ctx context.Context) error {
	var (
		batches   = make([]BatchRow, 0, w.batchSize)
		journals  = make([]JournalRow, 0, w.batchSize*4)
		snapshots = make([]SnapshotRow, 0, w.batchSize*2)
	)

	reset := func() {
		batches = batches[:0]
		journals = journals[:0]
		snapshots = snapshots[:0]
	}

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batches) > 0 {
				if err := w.flush(context.Background(), batches, journals, snapshots); err != nil {
					log.Printf("ERROR: final audit flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(batches) > 0 {
					if err := w.flush(context.Background(), batches, journals, snapshots); err != nil {
						log.Printf("ERROR: final audit flush failed: %v", err)
					}
				}
				return nil
			}

			b, j, s := convertOutput(output)
			batches = append(batches, b)
			journals = append(journals, j...)
			snapshots = append(snapshots, s...)

			if len(batches) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batches, journals, snapshots); err != nil {
					log.Printf("ERROR: audit flush failed after retries: %v", err)
				}
				reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batches) > 0 {
				if err := w.flushWithRetry(ctx, batches, journals, snapshots); err != nil {
					log.Printf("ERROR: timeout audit flush failed after retries: %v", err)
				}
				reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a committed batch: it retries until the write lands or the
// context is cancelled, and even then attempts one final flush.
func (w *AuditWorker) flushWithRetry(ctx context.Context, batches []BatchRow, journals []JournalRow, snapshots []SnapshotRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: audit flush retry %d (backoff=%v, batches=%d)",
				attempt, backoff, len(batches))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), batches, journals, snapshots)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batches, journals, snapshots)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: audit flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
	}
}

// flush writes one accumulated batch in a single transaction.
func (w *AuditWorker) flush(ctx context.Context, batches []BatchRow, journals []JournalRow, snapshots []SnapshotRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatches(ctx, tx, batches); err != nil {
		return err
	}
	if err := w.writer.WriteJournals(ctx, tx, journals); err != nil {
		return err
	}
	if err := w.writer.WriteSnapshots(ctx, tx, snapshots); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.JournalsWritten.Add(float64(len(journals)))
		w.metrics.SnapshotsWritten.Add(float64(len(snapshots)))
		if len(batches) > 0 {
			w.metrics.PersistLastSeq.Set(float64(batches[len(batches)-1].Sequence))
		}
	}
	return nil
}

// convertOutput maps one engine output to its audit rows.
func convertOutput(output engine.Output) (BatchRow, []JournalRow, []SnapshotRow) {
	b := BatchRow{
		BatchID:   output.Batch.BatchID.String(),
		Sequence:  output.Batch.Sequence,
		StateHash: append([]byte(nil), output.StateHash[:]...),
		Timestamp: output.Batch.Timestamp,
	}

	journals := make([]JournalRow, 0, len(output.Batch.Journals))
	for i, j := range output.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     j.BatchID.String(),
			Sequence:    j.Sequence,
			Ordinal:     int16(i),
			AccountPath: j.AccountPath,
			TokenKey:    j.TokenKey,
			AssetID:     int16(j.AssetID),
			Amount:      int64(j.Amount),
			JournalType: int32(j.JournalType),
			Timestamp:   j.Timestamp,
		})
	}

	snapshots := make([]SnapshotRow, 0, len(output.Accounts))
	for _, s := range output.Accounts {
		row := SnapshotRow{
			AccountPath:     s.Path,
			Sequence:        s.Sequence,
			CollateralAmt:   int64(s.Account.CollateralAmount),
			CollateralAsset: int16(s.Account.CollateralID),
			ShortCallAmt:    int64(s.Account.ShortCallAmount),
			ShortPutAmt:     int64(s.Account.ShortPutAmount),
			Timestamp:       output.Batch.Timestamp,
		}
		if !s.Account.ShortCallID.IsZero() {
			row.ShortCallKey = s.Account.ShortCallID.Hex()
		}
		if !s.Account.ShortPutID.IsZero() {
			row.ShortPutKey = s.Account.ShortPutID.Hex()
		}
		snapshots = append(snapshots, row)
	}

	return b, journals, snapshots
}
