// Package validator implements record admission checks.
package validator

import (
	"fmt"

	"github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
)

// Config contains record admission limits, in bytes. A zero limit disables
// the corresponding check.
type Config struct {
	MaxKeyBytes   int
	MaxValueBytes int
}

// Validator rejects records before they reach a partition buffer. Admission
// checks are cheaper than a capacity failure inside the engine: a record
// rejected here never disturbs buffer accounting.
type Validator struct {
	cfg Config
}

// New creates a new record validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks one record against the configured limits. A nil key is
// legal; a nil value is not, since the engine has nothing to buffer.
func (v *Validator) Validate(rec record.Record) error {
	if rec.Partition < 0 {
		return &errors.ValidationError{
			Partition: rec.Partition,
			Field:     "partition",
			Reason:    "partition id must be non-negative",
		}
	}

	if rec.Value == nil {
		return &errors.ValidationError{
			Partition: rec.Partition,
			Field:     "value",
			Reason:    "value is required",
		}
	}

	if v.cfg.MaxKeyBytes > 0 && len(rec.Key) > v.cfg.MaxKeyBytes {
		return &errors.ValidationError{
			Partition: rec.Partition,
			Field:     "key",
			Reason:    fmt.Sprintf("key size %d exceeds limit %d", len(rec.Key), v.cfg.MaxKeyBytes),
		}
	}

	if v.cfg.MaxValueBytes > 0 && len(rec.Value) > v.cfg.MaxValueBytes {
		return &errors.ValidationError{
			Partition: rec.Partition,
			Field:     "value",
			Reason:    fmt.Sprintf("value size %d exceeds limit %d", len(rec.Value), v.cfg.MaxValueBytes),
		}
	}

	return nil
}
