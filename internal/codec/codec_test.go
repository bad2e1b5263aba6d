package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/jittakal/kafspill/pkg/codec"
)

var roundTripPairs = [][2][]byte{
	{[]byte("key-1"), []byte("value-1")},
	{[]byte(""), []byte("empty key")},
	{[]byte("empty value"), []byte("")},
	{bytes.Repeat([]byte("x"), 300), bytes.Repeat([]byte("y"), 1000)},
}

func roundTrip(t *testing.T, c codec.Codec) {
	t.Helper()

	var buf bytes.Buffer
	enc, err := c.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	for i, pair := range roundTripPairs {
		if err := enc.EncodeKey(pair[0]); err != nil {
			t.Fatalf("EncodeKey() %d error = %v", i, err)
		}
		if err := enc.EncodeValue(pair[1]); err != nil {
			t.Fatalf("EncodeValue() %d error = %v", i, err)
		}
		if err := enc.Flush(); err != nil {
			t.Fatalf("Flush() %d error = %v", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec, err := c.NewDecoder(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	for i, pair := range roundTripPairs {
		key, value, err := dec.Next()
		if err != nil {
			t.Fatalf("Next() %d error = %v", i, err)
		}
		if !bytes.Equal(key, pair[0]) {
			t.Errorf("record %d key = %q, want %q", i, key, pair[0])
		}
		if !bytes.Equal(value, pair[1]) {
			t.Errorf("record %d value = %q, want %q", i, value, pair[1])
		}
	}
	if _, _, err := dec.Next(); err != io.EOF {
		t.Errorf("Next() past end error = %v, want io.EOF", err)
	}
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	roundTrip(t, NewBinaryCodec())
}

func TestAvroCodecRoundTrip(t *testing.T) {
	c, err := NewAvroCodec()
	if err != nil {
		t.Fatalf("NewAvroCodec() error = %v", err)
	}
	roundTrip(t, c)
}

func TestBinaryCodecRecordSizes(t *testing.T) {
	tests := []struct {
		name  string
		key   []byte
		value []byte
		want  int
	}{
		{"empty pair", nil, nil, 2},
		{"seven bytes", []byte("k1"), []byte("v01"), 7},
		{"one byte each", []byte("a"), []byte("b"), 4},
	}

	c := NewBinaryCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc, err := c.NewEncoder(&buf)
			if err != nil {
				t.Fatalf("NewEncoder() error = %v", err)
			}
			if err := enc.EncodeKey(tt.key); err != nil {
				t.Fatalf("EncodeKey() error = %v", err)
			}
			if err := enc.EncodeValue(tt.value); err != nil {
				t.Fatalf("EncodeValue() error = %v", err)
			}
			if buf.Len() != tt.want {
				t.Errorf("encoded size = %d, want %d", buf.Len(), tt.want)
			}
		})
	}
}

func TestBinaryCodecWritesThrough(t *testing.T) {
	// The engine observes size after Flush; binary frames must already be
	// in the writer by then.
	c := NewBinaryCodec()
	var buf bytes.Buffer
	enc, err := c.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("fresh binary stream has %d bytes, want 0 (no header)", buf.Len())
	}
	if err := enc.EncodeKey([]byte("k")); err != nil {
		t.Fatalf("EncodeKey() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("EncodeKey() left no observable bytes")
	}
}

func TestAvroEncoderPairing(t *testing.T) {
	c, err := NewAvroCodec()
	if err != nil {
		t.Fatalf("NewAvroCodec() error = %v", err)
	}
	var buf bytes.Buffer
	enc, err := c.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	if err := enc.EncodeValue([]byte("v")); err == nil {
		t.Error("EncodeValue() without key should fail")
	}
	if err := enc.EncodeKey([]byte("k")); err != nil {
		t.Fatalf("EncodeKey() error = %v", err)
	}
	if err := enc.EncodeKey([]byte("k2")); err == nil {
		t.Error("EncodeKey() twice without value should fail")
	}
	if err := enc.Close(); err == nil {
		t.Error("Close() with dangling key should fail")
	}
}

func TestFactoryCreateCodec(t *testing.T) {
	tests := []struct {
		format  codec.Format
		wantErr bool
	}{
		{codec.FormatBinary, false},
		{codec.FormatAvro, false},
		{codec.Format("protobuf"), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			c, err := NewFactory(tt.format).CreateCodec()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateCodec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", c.Format(), tt.format)
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) != 2 {
		t.Fatalf("SupportedFormats() returned %d formats, want 2", len(formats))
	}
}
