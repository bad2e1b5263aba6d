// Package record defines the core value types for partitioned spill buffering.
//
// A record is an opaque key/value pair routed to a logical destination
// partition. The engine never inspects key or value bytes; it only measures
// their encoded size.
package record

import "fmt"

// PartitionID identifies a logical destination channel for records.
// Records routed to the same partition are grouped together in the
// eventual output. Only equality is meaningful; no ordering is implied.
type PartitionID int32

// String returns a string representation of the partition ID.
func (p PartitionID) String() string {
	return fmt.Sprintf("pid-%d", int32(p))
}

// Record is a single key/value pair destined for a partition.
type Record struct {
	Partition PartitionID
	Key       []byte
	Value     []byte
}

// Block is a finished byte block spilled from a partition buffer.
// Data is the full encoded contents of the buffer at spill time and is
// owned by the receiver; the engine never mutates it after handoff.
type Block struct {
	Partition PartitionID
	Data      []byte
}

// Size returns the block payload size in bytes.
func (b Block) Size() int64 {
	return int64(len(b.Data))
}

// BufferStats is a point-in-time snapshot of engine state.
type BufferStats struct {
	BufferedBytes  int64
	OpenBuffers    int
	RecordsWritten uint64
	Spills         uint64
}

// ConsumedRecord is a record delivered by an ingest source, carrying the
// source position and a commit callback for at-least-once processing.
type ConsumedRecord struct {
	Record     Record
	Topic      string
	Offset     int64
	CommitFunc func() error
}
