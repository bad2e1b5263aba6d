// Package buffer implements the partitioned write-buffer-and-spill engine.
package buffer

import (
	"bytes"
	"fmt"
	"io"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/codec"
	"github.com/jittakal/kafspill/pkg/record"
)

// boundedRegion is an append-only in-memory byte region with a hard cap.
// A write that would grow the region past the cap fails whole, without
// appending anything.
type boundedRegion struct {
	buf bytes.Buffer
	max int64
}

var _ io.Writer = (*boundedRegion)(nil)

func (r *boundedRegion) Write(p []byte) (int, error) {
	if int64(r.buf.Len())+int64(len(p)) > r.max {
		return 0, fmt.Errorf("%w: write of %d bytes would grow region past %d bytes",
			apperrors.ErrCapacityExceeded, len(p), r.max)
	}
	return r.buf.Write(p)
}

func (r *boundedRegion) Len() int64 {
	return int64(r.buf.Len())
}

func (r *boundedRegion) Bytes() []byte {
	return r.buf.Bytes()
}

// PartitionBuffer owns one open encoding stream bound to a capped in-memory
// region. It is created lazily on the first record for a partition and
// destroyed when its contents are spilled. Exactly one writer; exactly one
// closing path.
type PartitionBuffer struct {
	partition record.PartitionID
	region    *boundedRegion
	enc       codec.Encoder
	closed    bool
}

// newPartitionBuffer opens a buffer for a partition. Codecs that write a
// stream header do so here, so Size can be non-zero immediately.
func newPartitionBuffer(partition record.PartitionID, c codec.Codec, maxBytes int64) (*PartitionBuffer, error) {
	region := &boundedRegion{max: maxBytes}
	enc, err := c.NewEncoder(region)
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder for %s: %w", partition, err)
	}
	return &PartitionBuffer{
		partition: partition,
		region:    region,
		enc:       enc,
	}, nil
}

// Append encodes one key/value pair and flushes so Size reflects it.
// On a capacity error the region may hold a partial frame; the caller is
// expected to re-measure via Size.
func (b *PartitionBuffer) Append(key, value []byte) error {
	if b.closed {
		return apperrors.ErrBufferClosed
	}
	if err := b.enc.EncodeKey(key); err != nil {
		return err
	}
	if err := b.enc.EncodeValue(value); err != nil {
		return err
	}
	return b.enc.Flush()
}

// Size returns the byte size of the buffer's current contents.
func (b *PartitionBuffer) Size() int64 {
	return b.region.Len()
}

// ExtractAndClose finalizes the stream, returns the full accumulated bytes
// and releases the buffer. Closing is destruction: calling any method after
// ExtractAndClose is an error.
func (b *PartitionBuffer) ExtractAndClose() ([]byte, error) {
	if b.closed {
		return nil, apperrors.ErrBufferClosed
	}
	b.closed = true
	if err := b.enc.Close(); err != nil {
		return nil, &apperrors.SpillError{Partition: b.partition, Err: err}
	}
	data := make([]byte, b.region.Len())
	copy(data, b.region.Bytes())
	b.region = &boundedRegion{}
	return data, nil
}
