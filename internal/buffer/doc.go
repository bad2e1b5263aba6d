// Package buffer implements the partitioned write-buffer-and-spill engine.
//
// The engine accumulates key/value records, grouped by partition id, into
// per-partition in-memory buffers. Each buffer is an open encoding stream
// over a growable byte region with a hard capacity cap. Two independent
// thresholds decide when buffered bytes leave managed state:
//
//   - Individual: when one buffer's size reaches the individual threshold,
//     that buffer alone is spilled as a finished block.
//   - Aggregate: when the sum of all open buffer sizes reaches the aggregate
//     threshold, every remaining buffer is spilled in one sweep.
//
// Both checks run inside AddRecord, individual first, so a single call can
// return zero blocks, one block, or one block plus a full sweep.
//
// # Accounting invariant
//
// At every call boundary the maintained totalBufferedBytes counter equals
// the sum of sizes over all open buffers. FilledBytes re-derives the sum and
// fails with an internal-consistency error on any disagreement; such a
// failure indicates a bug and must abort the unit of work rather than be
// swallowed.
//
// # Lifecycle
//
//	cfg := buffer.Config{
//	    IndividualBufferSize:    4 * 1024 * 1024,
//	    IndividualBufferMax:     16 * 1024 * 1024,
//	    AggregateSpillThreshold: 64 * 1024 * 1024,
//	}
//	mgr, err := buffer.NewManager(cfg, codec, logger, metrics)
//
//	blocks, err := mgr.AddRecord(partition, key, value)
//	for _, blk := range blocks {
//	    sink.Write(ctx, blk, router.Route(blk.Partition, now))
//	}
//
//	// On shutdown, drain whatever is still buffered.
//	blocks, err = mgr.Clear()
//
// Every partition buffer that is ever created is closed exactly once, either
// by a spill path or by Clear; a buffer never remains in the map after being
// closed.
//
// # Concurrency
//
// The engine is single-writer and performs no internal locking. All state is
// mutated only from AddRecord, Clear and FilledBytes, which must be called
// sequentially from one logical writer. Deployments that share a manager
// across goroutines must serialize access externally.
package buffer
