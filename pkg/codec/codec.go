// Package codec defines the pluggable record-encoding capability consumed
// by the spill engine.
//
// The engine requires a streaming contract: it appends one key/value pair at
// a time into an open encoder bound to an in-memory region, then flushes so
// the region's byte count reflects everything written so far. Decoders exist
// so that spilled blocks can be reconstructed downstream.
package codec

import "io"

// Format identifies a record serialization scheme.
type Format string

const (
	// FormatBinary is uvarint length-prefixed key/value framing.
	FormatBinary Format = "binary"
	// FormatAvro is an Avro Object Container File stream of key/value records.
	FormatAvro Format = "avro"
)

// Codec creates encoding and decoding streams for key/value records.
type Codec interface {
	// NewEncoder opens an encoding stream that appends to w.
	// Some formats write a header during creation.
	NewEncoder(w io.Writer) (Encoder, error)

	// NewDecoder opens a decoding stream over a finished block.
	NewDecoder(r io.Reader) (Decoder, error)

	// Format returns the serialization scheme this codec implements.
	Format() Format
}

// Encoder is an open, append-only encoding stream. Exactly one writer;
// not safe for concurrent use.
type Encoder interface {
	// EncodeKey appends a record key to the stream.
	EncodeKey(key []byte) error

	// EncodeValue appends a record value to the stream. Every EncodeValue
	// must be preceded by exactly one EncodeKey.
	EncodeValue(value []byte) error

	// Flush materializes pending bytes into the underlying writer so the
	// stream's output size is observable.
	Flush() error

	// Close finalizes the stream. The stream must be closed exactly once
	// and must not be used afterwards.
	Close() error
}

// Decoder reads key/value pairs back out of an encoded block.
type Decoder interface {
	// Next returns the next pair, or io.EOF when the block is exhausted.
	// The returned slices are owned by the caller.
	Next() (key, value []byte, err error)
}
