package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OptionLedger.
type Metrics struct {
	// --- Engine ---
	BatchesExecuted   *prometheus.CounterVec
	BatchesRejected   *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	MarginCheckDur    prometheus.Histogram
	EngineSequence    prometheus.Gauge
	AccountsTracked   prometheus.Gauge
	StateHashDuration prometheus.Histogram

	// --- Liquidation & Settlement ---
	LiquidationsTotal     *prometheus.CounterVec
	LiquidationCollateral prometheus.Counter
	SettlementsTotal      prometheus.Counter
	SettlementShortfall   prometheus.Counter

	// --- Market data feeds ---
	FeedUpdates     *prometheus.CounterVec
	FeedStaleDrops  *prometheus.CounterVec
	FeedParseErrors *prometheus.CounterVec

	// --- Persistence ---
	JournalsWritten     prometheus.Counter
	SnapshotsWritten    prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSeq      prometheus.Gauge
	PersistBackpressure prometheus.Counter

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	engineBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		BatchesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_batches_executed_total",
			Help: "Action batches committed, by outcome-relevant kind",
		}, []string{"kind"}),

		BatchesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_batches_rejected_total",
			Help: "Action batches rejected, by reason",
		}, []string{"reason"}),

		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionledger_batch_duration_seconds",
			Help:    "End-to-end batch execution latency",
			Buckets: engineBuckets,
		}),

		MarginCheckDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionledger_margin_check_duration_seconds",
			Help:    "Min-collateral evaluation latency",
			Buckets: engineBuckets,
		}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optionledger_engine_sequence",
			Help: "Last committed engine sequence",
		}),

		AccountsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optionledger_accounts_tracked",
			Help: "Non-empty margin accounts in the store",
		}),

		StateHashDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionledger_state_hash_duration_seconds",
			Help:    "State hash chain computation latency",
			Buckets: engineBuckets,
		}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_liquidations_total",
			Help: "Liquidation attempts, by outcome",
		}, []string{"outcome"}),

		LiquidationCollateral: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_liquidation_collateral_released_total",
			Help: "Collateral released to liquidators (native units)",
		}),

		SettlementsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_settlements_total",
			Help: "Accounts settled at expiry",
		}),

		SettlementShortfall: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_settlement_shortfall_total",
			Help: "Payout reservation clamped by insufficient collateral (native units)",
		}),

		FeedUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_feed_updates_total",
			Help: "Market data prints applied, by feed",
		}, []string{"feed"}),

		FeedStaleDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_feed_stale_drops_total",
			Help: "Market data prints dropped for stale sequence, by feed",
		}, []string{"feed"}),

		FeedParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_feed_parse_errors_total",
			Help: "Malformed feed payloads, by feed",
		}, []string{"feed"}),

		JournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_persist_snapshots_written_total",
			Help: "Account snapshot rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionledger_persist_batch_duration_seconds",
			Help:    "Write-behind persistence batch latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_persist_errors_total",
			Help: "Persistence failures, by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_persist_retries_total",
			Help: "Persistence retry attempts",
		}),

		PersistLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optionledger_persist_last_sequence",
			Help: "Last engine sequence durably persisted",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optionledger_persist_backpressure_total",
			Help: "Blocking waits on a full persistence channel",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optionledger_api_requests_total",
			Help: "HTTP API requests, by endpoint and status",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optionledger_api_duration_seconds",
			Help:    "HTTP API latency, by endpoint",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
