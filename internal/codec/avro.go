// Package codec implements record stream codecs.
package codec

import (
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafspill/pkg/codec"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ codec.Codec   = (*AvroCodec)(nil)
	_ codec.Encoder = (*avroEncoder)(nil)
	_ codec.Decoder = (*avroDecoder)(nil)
)

// AvroCodec streams key/value pairs as an Avro Object Container File.
// The OCF header is written when the encoder is opened, so a fresh stream
// has a non-zero size; block sizes are therefore codec-dependent. Produces
// OCF output readable by Apache Spark and other standard Avro readers.
type AvroCodec struct {
	avro *goavro.Codec
}

// NewAvroCodec creates a new Avro OCF codec.
func NewAvroCodec() (*AvroCodec, error) {
	avro, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &AvroCodec{avro: avro}, nil
}

// avroSchema returns the Avro schema for spill records.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "SpillRecord",
		"namespace": "com.kafspill",
		"fields": [
			{"name": "key", "type": "bytes"},
			{"name": "value", "type": "bytes"}
		]
	}`
}

// NewEncoder opens an OCF encoding stream appending to w. The container
// header is written immediately.
func (c *AvroCodec) NewEncoder(w io.Writer) (codec.Encoder, error) {
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: c.avro,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}
	return &avroEncoder{ocf: ocf}, nil
}

// NewDecoder opens an OCF decoding stream over r.
func (c *AvroCodec) NewDecoder(r io.Reader) (codec.Decoder, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF reader: %w", err)
	}
	return &avroDecoder{ocf: ocf}, nil
}

// Format returns the serialization scheme.
func (c *AvroCodec) Format() codec.Format {
	return codec.FormatAvro
}

// avroEncoder buffers each key until its value arrives, then appends one
// complete OCF record. Appends are synchronous, so Flush has nothing to do.
type avroEncoder struct {
	ocf        *goavro.OCFWriter
	pendingKey []byte
	haveKey    bool
	closed     bool
}

func (e *avroEncoder) EncodeKey(key []byte) error {
	if e.closed {
		return fmt.Errorf("encode on closed avro encoder")
	}
	if e.haveKey {
		return fmt.Errorf("avro encoder: key encoded twice without a value")
	}
	e.pendingKey = append([]byte(nil), key...)
	e.haveKey = true
	return nil
}

func (e *avroEncoder) EncodeValue(value []byte) error {
	if e.closed {
		return fmt.Errorf("encode on closed avro encoder")
	}
	if !e.haveKey {
		return fmt.Errorf("avro encoder: value encoded without a key")
	}
	rec := map[string]interface{}{
		"key":   e.pendingKey,
		"value": append([]byte(nil), value...),
	}
	e.pendingKey = nil
	e.haveKey = false
	return e.ocf.Append([]interface{}{rec})
}

func (e *avroEncoder) Flush() error {
	if e.closed {
		return fmt.Errorf("flush on closed avro encoder")
	}
	return nil
}

func (e *avroEncoder) Close() error {
	if e.closed {
		return fmt.Errorf("close on closed avro encoder")
	}
	if e.haveKey {
		return fmt.Errorf("avro encoder closed with a dangling key")
	}
	e.closed = true
	return nil
}

type avroDecoder struct {
	ocf *goavro.OCFReader
}

func (d *avroDecoder) Next() (key, value []byte, err error) {
	if !d.ocf.Scan() {
		if err := d.ocf.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, io.EOF
	}

	datum, err := d.ocf.Read()
	if err != nil {
		return nil, nil, err
	}

	rec, ok := datum.(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("unexpected avro datum type %T", datum)
	}

	key, ok = rec["key"].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("avro record missing key field")
	}
	value, ok = rec["value"].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("avro record missing value field")
	}

	return key, value, nil
}
