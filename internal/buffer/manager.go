package buffer

import (
	"fmt"
	"log/slog"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/codec"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ spill.Engine         = (*Manager)(nil)
	_ spill.MemoryReleaser = (*Manager)(nil)
)

// Config contains the engine's spill thresholds, all in bytes.
// No defaults are implied; all three must be supplied explicitly.
type Config struct {
	// IndividualBufferSize is the size at which a single partition's buffer
	// is spilled on its own.
	IndividualBufferSize int64

	// IndividualBufferMax is the hard cap on one buffer's backing region.
	// It is a safety bound, not a spill trigger; writes past it fail.
	IndividualBufferMax int64

	// AggregateSpillThreshold is the total buffered size at which every
	// open buffer is spilled.
	AggregateSpillThreshold int64
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.IndividualBufferSize <= 0 {
		return fmt.Errorf("individual buffer size must be positive, got %d", c.IndividualBufferSize)
	}
	if c.IndividualBufferMax <= 0 {
		return fmt.Errorf("individual buffer max must be positive, got %d", c.IndividualBufferMax)
	}
	if c.AggregateSpillThreshold <= 0 {
		return fmt.Errorf("aggregate spill threshold must be positive, got %d", c.AggregateSpillThreshold)
	}
	if c.IndividualBufferSize > c.IndividualBufferMax {
		return fmt.Errorf("individual buffer size (%d) exceeds buffer max (%d)",
			c.IndividualBufferSize, c.IndividualBufferMax)
	}
	return nil
}

// MetricsCollector defines metrics operations for the engine.
type MetricsCollector interface {
	IncRecordsAppended(partition record.PartitionID)
	IncSpills(kind string)
	ObserveBlockSize(partition record.PartitionID, size float64)
	SetBufferedBytes(size float64)
	SetOpenBuffers(count float64)
}

// Spill event kinds reported to metrics.
const (
	SpillKindPartition = "partition"
	SpillKindAggregate = "aggregate"
	SpillKindClear     = "clear"
)

// Manager routes records to per-partition buffers and spills finished blocks
// under a two-level threshold policy.
//
// Manager is single-writer and not internally synchronized: all state is
// mutated only from within AddRecord, Clear and FilledBytes, which must be
// driven sequentially by one logical writer. Wrap the manager in external
// synchronization if it must be shared.
type Manager struct {
	cfg     Config
	codec   codec.Codec
	buffers map[record.PartitionID]*PartitionBuffer

	// totalBufferedBytes equals the sum of Size over all open buffers at
	// every call boundary. FilledBytes re-derives the sum and fails loudly
	// on disagreement.
	totalBufferedBytes int64

	recordsWritten uint64
	spills         uint64

	logger  *slog.Logger
	metrics MetricsCollector
}

// NewManager creates a new spill engine.
func NewManager(cfg Config, c codec.Codec, logger *slog.Logger, metrics MetricsCollector) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buffer config: %w", err)
	}

	logger.Info("spill engine created",
		"individual_buffer_size", cfg.IndividualBufferSize,
		"individual_buffer_max", cfg.IndividualBufferMax,
		"aggregate_spill_threshold", cfg.AggregateSpillThreshold,
		"codec", c.Format(),
	)

	return &Manager{
		cfg:     cfg,
		codec:   c,
		buffers: make(map[record.PartitionID]*PartitionBuffer),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// AddRecord routes one record to its partition's buffer and returns the
// blocks this call spilled: a per-partition spill (0 or 1 blocks) followed,
// if the aggregate threshold is crossed, by a sweep of every remaining open
// buffer. A record whose very first write for a partition already meets the
// individual threshold is spilled alone without ever entering the buffer map.
func (m *Manager) AddRecord(partition record.PartitionID, key, value []byte) ([]record.Block, error) {
	m.recordsWritten++
	if m.metrics != nil {
		m.metrics.IncRecordsAppended(partition)
	}

	var out []record.Block

	if buf, ok := m.buffers[partition]; ok {
		oldSize := buf.Size()
		if err := buf.Append(key, value); err != nil {
			// The failed append may have left a partial frame in the
			// region; fold the observed growth into the counter so the
			// accounting invariant survives the error path.
			m.totalBufferedBytes += buf.Size() - oldSize
			m.publishGauges()
			return nil, err
		}
		newSize := buf.Size()

		if newSize >= m.cfg.IndividualBufferSize {
			data, err := buf.ExtractAndClose()
			if err != nil {
				return nil, err
			}
			delete(m.buffers, partition)
			// The buffer's entire prior contribution is retracted; the
			// growth from this record was never added.
			m.totalBufferedBytes -= oldSize
			m.recordSpill(SpillKindPartition, partition, int64(len(data)))
			out = append(out, record.Block{Partition: partition, Data: data})
		} else {
			m.totalBufferedBytes += newSize - oldSize
		}
	} else {
		buf, err := newPartitionBuffer(partition, m.codec, m.cfg.IndividualBufferMax)
		if err != nil {
			return nil, err
		}
		if err := buf.Append(key, value); err != nil {
			return nil, err
		}
		newSize := buf.Size()

		if newSize >= m.cfg.IndividualBufferSize {
			// Oversized first record: spill as a singleton block without
			// ever occupying map or counter state.
			data, err := buf.ExtractAndClose()
			if err != nil {
				return nil, err
			}
			m.recordSpill(SpillKindPartition, partition, int64(len(data)))
			out = append(out, record.Block{Partition: partition, Data: data})
		} else {
			m.buffers[partition] = buf
			m.totalBufferedBytes += newSize
		}
	}

	if m.totalBufferedBytes >= m.cfg.AggregateSpillThreshold {
		swept, err := m.sweep(SpillKindAggregate)
		out = append(out, swept...)
		if err != nil {
			return out, err
		}
	}

	m.publishGauges()
	return out, nil
}

// FilledBytes recomputes the sum of all open buffer sizes and asserts
// equality with the maintained counter. A mismatch is an internal
// consistency fault and signals a bug in the accounting logic.
func (m *Manager) FilledBytes() (int64, error) {
	var sum int64
	for _, buf := range m.buffers {
		sum += buf.Size()
	}
	if sum != m.totalBufferedBytes {
		return 0, fmt.Errorf("%w: counter=%d recomputed=%d open_buffers=%d",
			apperrors.ErrInconsistentAccounting, m.totalBufferedBytes, sum, len(m.buffers))
	}
	return m.totalBufferedBytes, nil
}

// Clear unconditionally spills every open buffer, regardless of size.
// An empty clear returns no blocks and is not counted as a spill event.
// Blocks are returned in unspecified order.
func (m *Manager) Clear() ([]record.Block, error) {
	if len(m.buffers) == 0 {
		return nil, nil
	}
	blocks, err := m.sweep(SpillKindClear)
	m.publishGauges()
	return blocks, err
}

// sweep extracts and closes every open buffer, resets the byte counter and
// counts one spill event. Extraction errors do not stop the sweep: every
// buffer is removed either way, so no closed buffer can linger in the map.
func (m *Manager) sweep(kind string) ([]record.Block, error) {
	blocks := make([]record.Block, 0, len(m.buffers))
	var sweepErr error
	var sweptBytes int64

	for partition, buf := range m.buffers {
		data, err := buf.ExtractAndClose()
		if err != nil {
			sweepErr = err
		} else {
			sweptBytes += int64(len(data))
			if m.metrics != nil {
				m.metrics.ObserveBlockSize(partition, float64(len(data)))
			}
			blocks = append(blocks, record.Block{Partition: partition, Data: data})
		}
		delete(m.buffers, partition)
	}

	m.totalBufferedBytes = 0
	m.spills++
	if m.metrics != nil {
		m.metrics.IncSpills(kind)
	}
	m.logger.Debug("swept all partition buffers",
		"kind", kind,
		"blocks", len(blocks),
		"bytes", sweptBytes,
	)
	return blocks, sweepErr
}

func (m *Manager) recordSpill(kind string, partition record.PartitionID, size int64) {
	m.spills++
	if m.metrics != nil {
		m.metrics.IncSpills(kind)
		m.metrics.ObserveBlockSize(partition, float64(size))
	}
	m.logger.Debug("spilled partition buffer",
		"kind", kind,
		"partition", partition,
		"bytes", size,
	)
}

func (m *Manager) publishGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetBufferedBytes(float64(m.totalBufferedBytes))
	m.metrics.SetOpenBuffers(float64(len(m.buffers)))
}

// RecordsWritten returns the number of AddRecord calls observed.
func (m *Manager) RecordsWritten() uint64 {
	return m.recordsWritten
}

// Spills returns the number of spill events.
func (m *Manager) Spills() uint64 {
	return m.spills
}

// Stats returns a point-in-time snapshot of engine state.
func (m *Manager) Stats() record.BufferStats {
	return record.BufferStats{
		BufferedBytes:  m.totalBufferedBytes,
		OpenBuffers:    len(m.buffers),
		RecordsWritten: m.recordsWritten,
		Spills:         m.spills,
	}
}

// ReleaseMemory implements spill.MemoryReleaser as a documented no-op.
// Spilling is driven solely by the byte thresholds; the engine does not
// react to external memory pressure. The seam exists so a backpressure
// controller can be substituted without touching the core.
func (m *Manager) ReleaseMemory(bytesHint int64) int64 {
	return 0
}
