package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpVault.
type Metrics struct {
	// --- Vault operations ---
	VaultOpsApplied  *prometheus.CounterVec
	VaultOpsRejected *prometheus.CounterVec
	VaultOpDuration  *prometheus.HistogramVec
	VaultSequence    prometheus.Gauge

	// --- Pool accounting, per asset ---
	PoolAmount      *prometheus.GaugeVec
	ReservedAmount  *prometheus.GaugeVec
	FeeReserves     *prometheus.GaugeVec
	GuaranteedUSD   *prometheus.GaugeVec
	GlobalShortSize *prometheus.GaugeVec
	OpenPositions   prometheus.Gauge
	AUM             prometheus.Gauge

	// --- Liquidation ---
	Liquidations *prometheus.CounterVec

	// --- Ingestion ---
	PriceUpdates        *prometheus.CounterVec
	PriceUpdatesInvalid *prometheus.CounterVec

	// --- Channel & Backpressure ---
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Projections ---
	ProjectionLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	persistBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		VaultOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vault_operations_applied_total",
			Help: "Vault operations committed",
		}, []string{"operation"}),

		VaultOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vault_operations_rejected_total",
			Help: "Vault operations reverted, by error class",
		}, []string{"operation", "class"}),

		VaultOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_vault_operation_duration_seconds",
			Help:    "Time to apply a single vault operation",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		VaultSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vault_sequence",
			Help: "Sequence of the last committed operation",
		}),

		PoolAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vault_pool_amount",
			Help: "Pool amount per asset in whole tokens",
		}, []string{"asset"}),

		ReservedAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vault_reserved_amount",
			Help: "Reserved amount per asset in whole tokens",
		}, []string{"asset"}),

		FeeReserves: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vault_fee_reserves",
			Help: "Fee reserves per asset in whole tokens",
		}, []string{"asset"}),

		GuaranteedUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vault_guaranteed_usd",
			Help: "Guaranteed USD per asset",
		}, []string{"asset"}),

		GlobalShortSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vault_global_short_size_usd",
			Help: "Open short notional per index asset",
		}, []string{"asset"}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vault_open_positions",
			Help: "Number of open positions",
		}),

		AUM: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vault_aum_usd",
			Help: "Assets under management at maximised prices",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vault_liquidations_total",
			Help: "Positions liquidated, by resulting state",
		}, []string{"index", "state"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_ingest_price_updates_total",
			Help: "Price updates applied to the oracle",
		}, []string{"asset"}),

		PriceUpdatesInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_ingest_price_updates_invalid_total",
			Help: "Price updates rejected by parsing or validation",
		}, []string{"reason"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Outputs dropped because the publish channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_backpressure_total",
			Help: "Times the vault blocked on a full persist channel",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_size",
			Help:    "Envelopes per persistence batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: persistBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_projection_last_sequence",
			Help: "Last sequence applied to the position history projection",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshot_taken_total",
			Help: "Snapshots saved",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Time to capture and save a snapshot",
			Buckets: persistBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "code"}),
	}
}
