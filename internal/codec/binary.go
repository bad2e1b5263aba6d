// Package codec implements record stream codecs.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jittakal/kafspill/pkg/codec"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ codec.Codec   = (*BinaryCodec)(nil)
	_ codec.Encoder = (*binaryEncoder)(nil)
	_ codec.Decoder = (*binaryDecoder)(nil)
)

// BinaryCodec frames each key and value as a uvarint length prefix followed
// by the raw bytes. It writes no header, so an empty stream is zero bytes
// and every record contributes a deterministic, key/value-proportional size.
type BinaryCodec struct{}

// NewBinaryCodec creates a new length-prefixed binary codec.
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{}
}

// NewEncoder opens a binary encoding stream appending to w.
func (c *BinaryCodec) NewEncoder(w io.Writer) (codec.Encoder, error) {
	return &binaryEncoder{w: w}, nil
}

// NewDecoder opens a binary decoding stream over r.
func (c *BinaryCodec) NewDecoder(r io.Reader) (codec.Decoder, error) {
	return &binaryDecoder{r: bufio.NewReader(r)}, nil
}

// Format returns the serialization scheme.
func (c *BinaryCodec) Format() codec.Format {
	return codec.FormatBinary
}

type binaryEncoder struct {
	w       io.Writer
	scratch [binary.MaxVarintLen64]byte
	closed  bool
}

func (e *binaryEncoder) EncodeKey(key []byte) error {
	return e.writeFrame(key)
}

func (e *binaryEncoder) EncodeValue(value []byte) error {
	return e.writeFrame(value)
}

func (e *binaryEncoder) writeFrame(b []byte) error {
	if e.closed {
		return fmt.Errorf("encode on closed binary encoder")
	}
	n := binary.PutUvarint(e.scratch[:], uint64(len(b)))
	if _, err := e.w.Write(e.scratch[:n]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := e.w.Write(b)
	return err
}

// Flush is a no-op: frames are written through on encode.
func (e *binaryEncoder) Flush() error {
	if e.closed {
		return fmt.Errorf("flush on closed binary encoder")
	}
	return nil
}

func (e *binaryEncoder) Close() error {
	if e.closed {
		return fmt.Errorf("close on closed binary encoder")
	}
	e.closed = true
	return nil
}

type binaryDecoder struct {
	r *bufio.Reader
}

// Next reads one key/value pair. A clean end of stream returns io.EOF;
// a stream that ends between key and value returns io.ErrUnexpectedEOF.
func (d *binaryDecoder) Next() (key, value []byte, err error) {
	key, err = d.readFrame()
	if err != nil {
		return nil, nil, err
	}
	value, err = d.readFrame()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}
	return key, value, nil
}

func (d *binaryDecoder) readFrame() ([]byte, error) {
	length, err := binary.ReadUvarint(d.r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}
