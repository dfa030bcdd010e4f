package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksIndexed tracks blocks committed to the store.
	BlocksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ethmirror_blocks_indexed_total",
			Help: "Total number of blocks committed to the store",
		},
	)

	// ChunksCommitted tracks committed chunks by outcome.
	ChunksCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethmirror_chunks_total",
			Help: "Chunks processed by outcome",
		},
		[]string{"outcome"},
	)

	// ChunkSize tracks the effective chunk size.
	ChunkSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethmirror_chunk_size",
			Help: "Effective number of heights per chunk",
		},
	)

	// BatchBytes tracks the size of committed write batches.
	BatchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ethmirror_batch_bytes",
			Help:    "Size of committed write batches in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 10),
		},
	)

	// CommitLatency tracks how long the store takes to apply a batch.
	CommitLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ethmirror_commit_latency_seconds",
			Help:    "Store batch commit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SyncState reports the current loop state as a one-hot gauge.
	SyncState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ethmirror_sync_state",
			Help: "Current sync loop state (1 for the active state)",
		},
		[]string{"state"},
	)

	// RetriesTotal tracks retries by error class.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethmirror_retries_total",
			Help: "Retries performed by the sync loop",
		},
		[]string{"class"},
	)

	// TraceFailures counts transactions whose trace the node could not
	// produce. Their internal transactions are not indexed.
	TraceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ethmirror_trace_failures_total",
			Help: "Transactions skipped because the tracer reported an error",
		},
	)

	// ReorgsTotal tracks repaired reorgs.
	ReorgsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ethmirror_reorgs_total",
			Help: "Total number of chain reorganizations repaired",
		},
	)

	// ReorgDepth tracks rollback depth.
	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ethmirror_reorg_depth",
			Help:    "Number of heights rolled back per reorg",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 64},
		},
	)

	// RPCCallsTotal tracks RPC calls per provider and method.
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethmirror_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider.
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethmirror_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ethmirror_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ChainTip tracks the node's latest block height.
	ChainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethmirror_chain_tip",
			Help: "Latest block height reported by the node",
		},
	)

	// LastSyncedHeight tracks the committed checkpoint.
	LastSyncedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethmirror_last_synced_height",
			Help: "Highest committed block height",
		},
	)

	// DBConnectionPoolUsage tracks postgres pool usage in percent.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethmirror_db_pool_usage_percent",
			Help: "Open connections as a percentage of the pool maximum",
		},
	)

	// DBBatchSize tracks operations per relational batch.
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ethmirror_db_batch_size",
			Help:    "Operations per database transaction",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"operation"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethmirror_events_total",
			Help: "Sync events by type and delivery outcome",
		},
		[]string{"type", "outcome"},
	)
)
