package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jittakal/kafspill/pkg/record"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Engine metrics
	RecordsAppended *prometheus.CounterVec
	SpillEvents     *prometheus.CounterVec
	BlockSize       *prometheus.HistogramVec
	BufferedBytes   prometheus.Gauge
	OpenBuffers     prometheus.Gauge

	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec

	// Sink metrics
	BlocksWritten     *prometheus.CounterVec
	SinkWriteDuration *prometheus.HistogramVec
	SinkBytesWritten  *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	DeadLetters       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RecordsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spill_records_appended_total",
				Help: "Total number of records appended to partition buffers",
			},
			[]string{"partition"},
		),
		SpillEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spill_events_total",
				Help: "Total number of spill events by kind (partition, aggregate, clear)",
			},
			[]string{"kind"},
		),
		BlockSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spill_block_size_bytes",
				Help:    "Size of spilled blocks",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
			},
			[]string{"partition"},
		),
		BufferedBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "spill_buffered_bytes",
				Help: "Bytes currently held across all open partition buffers",
			},
		),
		OpenBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "spill_open_buffers",
				Help: "Number of currently open partition buffers",
			},
		),

		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),

		BlocksWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_blocks_written_total",
				Help: "Total number of blocks written to the sink",
			},
			[]string{"backend", "status"},
		),
		SinkWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_write_duration_seconds",
				Help:    "Duration of sink write operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		SinkBytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_bytes_written_total",
				Help: "Total bytes written to the sink",
			},
			[]string{"backend"},
		),
		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_errors_total",
				Help: "Total number of sink errors",
			},
			[]string{"backend", "operation"},
		),
		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dead_letters_total",
				Help: "Total number of records republished to the dead-letter topic",
			},
			[]string{"topic", "reason"},
		),
	}
}

// Engine collectors (buffer.MetricsCollector).

// IncRecordsAppended increments the records appended counter.
func (m *Metrics) IncRecordsAppended(partition record.PartitionID) {
	m.RecordsAppended.WithLabelValues(partition.String()).Inc()
}

// IncSpills increments the spill events counter for a kind.
func (m *Metrics) IncSpills(kind string) {
	m.SpillEvents.WithLabelValues(kind).Inc()
}

// ObserveBlockSize observes the size of a spilled block.
func (m *Metrics) ObserveBlockSize(partition record.PartitionID, size float64) {
	m.BlockSize.WithLabelValues(partition.String()).Observe(size)
}

// SetBufferedBytes sets the buffered bytes gauge.
func (m *Metrics) SetBufferedBytes(size float64) {
	m.BufferedBytes.Set(size)
}

// SetOpenBuffers sets the open buffers gauge.
func (m *Metrics) SetOpenBuffers(count float64) {
	m.OpenBuffers.Set(count)
}

// Consumer collectors (kafka.MetricsCollector).

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// Sink collectors (sink.MetricsCollector).

// IncBlocksWritten increments the blocks written counter.
func (m *Metrics) IncBlocksWritten(backend string, status string) {
	m.BlocksWritten.WithLabelValues(backend, status).Inc()
}

// ObserveSinkWriteDuration observes a sink write duration.
func (m *Metrics) ObserveSinkWriteDuration(backend string, duration float64) {
	m.SinkWriteDuration.WithLabelValues(backend).Observe(duration)
}

// AddSinkBytesWritten adds to the sink bytes written counter.
func (m *Metrics) AddSinkBytesWritten(backend string, bytes float64) {
	m.SinkBytesWritten.WithLabelValues(backend).Add(bytes)
}

// IncSinkErrors increments the sink errors counter.
func (m *Metrics) IncSinkErrors(backend string, operation string) {
	m.SinkErrors.WithLabelValues(backend, operation).Inc()
}

// IncDeadLetters increments the dead letters counter.
func (m *Metrics) IncDeadLetters(topic string, reason string) {
	m.DeadLetters.WithLabelValues(topic, reason).Inc()
}
