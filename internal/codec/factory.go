// Package codec implements the codec factory for record stream codecs.
package codec

import (
	"fmt"

	"github.com/jittakal/kafspill/pkg/codec"
)

// Factory creates codecs based on the configured format.
type Factory struct {
	format codec.Format
}

// NewFactory creates a new codec factory.
func NewFactory(format codec.Format) *Factory {
	return &Factory{format: format}
}

// CreateCodec creates a codec for the configured format.
func (f *Factory) CreateCodec() (codec.Codec, error) {
	switch f.format {
	case codec.FormatBinary:
		return NewBinaryCodec(), nil
	case codec.FormatAvro:
		return NewAvroCodec()
	default:
		return nil, fmt.Errorf("unsupported codec format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported codec formats.
func SupportedFormats() []codec.Format {
	return []codec.Format{
		codec.FormatBinary,
		codec.FormatAvro,
	}
}
