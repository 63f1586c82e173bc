// Package metrics exports the Prometheus gauges/counters/histograms served
// over /metrics (SPEC_FULL.md §2: storage, Raft, AOF/RDB, eviction, shard
// health).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage engine metrics
	KeysTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvstore_keys_total",
			Help: "Total number of live (non-expired, non-tombstoned) keys",
		},
	)

	MemoryUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvstore_memory_used_bytes",
			Help: "Estimated memory used by the storage engine",
		},
	)

	ExpiredKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvstore_expired_keys_total",
			Help: "Total number of keys removed by the expiry cleaner",
		},
	)

	EvictedKeysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvstore_evicted_keys_total",
			Help: "Total number of keys removed by the eviction engine, by policy",
		},
		[]string{"policy"},
	)

	CommandsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvstore_commands_processed_total",
			Help: "Total number of commands dispatched, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvstore_command_duration_seconds",
			Help:    "Command dispatch latency in seconds, by verb",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// Raft metrics
	RaftIsLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvstore_raft_is_leader",
			Help: "Whether this node is the Raft leader for a shard (1 = leader, 0 = follower)",
		},
		[]string{"shard"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvstore_raft_applied_index",
			Help: "Last applied Raft log index, by shard",
		},
		[]string{"shard"},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvstore_raft_apply_duration_seconds",
			Help:    "Time to apply a command through Raft, by shard",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	RaftSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvstore_raft_snapshots_total",
			Help: "Total number of Raft log-compaction snapshots taken, by shard",
		},
		[]string{"shard"},
	)

	// Durability metrics
	AOFSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvstore_aof_size_bytes",
			Help: "Current append-only log file size in bytes",
		},
	)

	AOFRewritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvstore_aof_rewrites_total",
			Help: "Total number of append-only log rewrites performed",
		},
	)

	AOFFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvstore_aof_fsync_duration_seconds",
			Help:    "Time spent fsyncing the append-only log",
			Buckets: prometheus.DefBuckets,
		},
	)

	RDBSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvstore_rdb_save_duration_seconds",
			Help:    "Time spent writing a point-in-time snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	RDBSavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvstore_rdb_saves_total",
			Help: "Total number of point-in-time snapshots written",
		},
	)

	// Shard router metrics
	ShardStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvstore_shard_status",
			Help: "Shard status (1 = reported status active, 0 = inactive), by shard and status label",
		},
		[]string{"shard", "status"},
	)

	ShardFailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvstore_shard_failovers_total",
			Help: "Total number of shard failover events raised",
		},
		[]string{"shard"},
	)

	MigrationProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvstore_migration_progress_percent",
			Help: "Progress (0-100) of an in-flight shard migration",
		},
		[]string{"migration_id"},
	)

	MigrationsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvstore_migrations_completed_total",
			Help: "Total number of completed shard migrations",
		},
	)
)

func init() {
	prometheus.MustRegister(
		KeysTotal,
		MemoryUsedBytes,
		ExpiredKeysTotal,
		EvictedKeysTotal,
		CommandsProcessedTotal,
		CommandDuration,
		RaftIsLeader,
		RaftAppliedIndex,
		RaftApplyDuration,
		RaftSnapshotsTotal,
		AOFSizeBytes,
		AOFRewritesTotal,
		AOFFsyncDuration,
		RDBSaveDuration,
		RDBSavesTotal,
		ShardStatus,
		ShardFailoversTotal,
		MigrationProgress,
		MigrationsCompletedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later observation against a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
