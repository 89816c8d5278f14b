package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for pickle metrics.
const (
	StatementsTotalKey               = "pickle_statements_total"
	QueueEnqueuedTotalKey            = "pickle_queue_enqueued_total"
	QueueDequeuedTotalKey            = "pickle_queue_dequeued_total"
	QueueDepthKey                    = "pickle_queue_depth"
	QueueWaitSecondsKey              = "pickle_queue_wait_seconds"
	MapOperationsTotalKey            = "pickle_map_operations_total"
	MapCacheLookupsTotalKey          = "pickle_map_cache_lookups_total"
	ConsumerProcessedTotalKey        = "pickle_consumer_processed_total"
	CompactionsTotalKey              = "pickle_store_compactions_total"
	CompactionSecondsKey             = "pickle_store_compaction_seconds"
	CompactionReclaimedBytesTotalKey = "pickle_store_compaction_reclaimed_bytes_total"

	Fail = "fail"
	Ok   = "ok"

	Hit  = "hit"
	Miss = "miss"

	// Statement kinds.
	Update = "update"
	Query  = "query"
)

// Collectors for pickle metrics.
var (
	StatementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StatementsTotalKey,
		Help: "Cumulative number of executed SQL statements.",
	}, []string{"kind", "status"})
	QueueEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: QueueEnqueuedTotalKey,
		Help: "Cumulative number of items enqueued.",
	}, []string{"store"})
	QueueDequeuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: QueueDequeuedTotalKey,
		Help: "Cumulative number of items dequeued.",
	}, []string{"store"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: QueueDepthKey,
		Help: "Number of items held by a blocking queue.",
	}, []string{"store"})
	QueueWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    QueueWaitSecondsKey,
		Help:    "Seconds spent blocked waiting for a queue to become non-empty.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	MapOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MapOperationsTotalKey,
		Help: "Cumulative number of map operations.",
	}, []string{"operation", "status"})
	MapCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MapCacheLookupsTotalKey,
		Help: "Cumulative number of map read-cache lookups.",
	}, []string{"result"})
	ConsumerProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ConsumerProcessedTotalKey,
		Help: "Cumulative number of items processed by queue consumers.",
	}, []string{"status"})
	CompactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CompactionsTotalKey,
		Help: "Cumulative number of store compactions.",
	}, []string{"status"})
	CompactionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: CompactionSecondsKey,
		Help: "Duration of successful store compactions.",
	})
	CompactionReclaimedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CompactionReclaimedBytesTotalKey,
		Help: "Cumulative number of on-disk bytes reclaimed by compactions.",
	})
)

// PickleCollectors lists collectors used by pickle collections.
func PickleCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		StatementsTotal,
		QueueEnqueuedTotal,
		QueueDequeuedTotal,
		QueueDepth,
		QueueWaitSeconds,
		MapOperationsTotal,
		MapCacheLookupsTotal,
		ConsumerProcessedTotal,
		CompactionsTotal,
		CompactionSeconds,
		CompactionReclaimedBytesTotal,
	}
}
