// Package spill defines interfaces for the partitioned write-buffer-and-spill
// engine and the collaborators that receive its output.
//
// The engine accumulates key/value records into per-partition in-memory
// buffers and decides, under two independent byte thresholds, when buffer
// contents are handed back to the caller as finished blocks. Sinks and
// routers are external collaborators: the engine itself performs no I/O.
package spill

import (
	"context"

	"github.com/jittakal/kafspill/pkg/record"
)

// Engine buffers records per partition and spills finished byte blocks.
//
// Engines are single-writer: no method is safe for concurrent calls.
// A deployment with multiple writers must serialize access externally.
type Engine interface {
	// AddRecord routes one record to its partition buffer and returns the
	// blocks spilled by this call: a per-partition spill (0 or 1 blocks)
	// followed, if the aggregate threshold was crossed, by a sweep of every
	// remaining open buffer. The returned slice is empty on most calls.
	AddRecord(partition record.PartitionID, key, value []byte) ([]record.Block, error)

	// FilledBytes recomputes the sum of open buffer sizes, verifies it
	// against the maintained aggregate counter, and returns it. A mismatch
	// is an internal-consistency fault and must not be swallowed.
	FilledBytes() (int64, error)

	// Clear unconditionally spills every open buffer regardless of size.
	Clear() ([]record.Block, error)

	// RecordsWritten returns the number of AddRecord calls observed.
	RecordsWritten() uint64

	// Spills returns the number of spill events (per-partition, aggregate
	// and non-empty clears each count once).
	Spills() uint64

	// Stats returns a point-in-time snapshot of engine state.
	Stats() record.BufferStats
}

// MemoryReleaser is the seam through which an external memory-pressure
// controller can request reclamation. The engine's implementation is an
// intentional no-op: spilling is driven solely by the byte thresholds, and
// this interface exists so a future backpressure controller can be
// substituted without touching the core.
type MemoryReleaser interface {
	// ReleaseMemory requests that up to bytesHint bytes be released and
	// returns the number of bytes actually reclaimed.
	ReleaseMemory(bytesHint int64) int64
}

// Sink persists spilled blocks. Implementations must be safe for use by a
// single writer goroutine and must not retain the block data after Write
// returns.
type Sink interface {
	// Write persists one block under the given path prefix and returns the
	// number of bytes written.
	Write(ctx context.Context, block record.Block, path string) (int64, error)

	// Close releases sink resources.
	Close() error
}

// Router determines the sink path prefix for a partition's blocks.
type Router interface {
	// Route returns the path prefix for a partition at a Unix timestamp.
	Route(partition record.PartitionID, timestamp int64) string
}
