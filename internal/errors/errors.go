// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kafspill/pkg/record"
)

// Sentinel errors for common conditions.
var (
	// ErrInconsistentAccounting signals that the maintained buffered-byte
	// counter disagrees with the recomputed sum over open buffers. This is
	// a programmer-error-class fault: it is never retried and must abort
	// the current unit of work.
	ErrInconsistentAccounting = errors.New("buffered byte accounting is inconsistent")

	// ErrCapacityExceeded signals that a single partition buffer's backing
	// region would need to grow past its hard cap to accommodate a write.
	ErrCapacityExceeded = errors.New("partition buffer capacity exceeded")

	ErrBufferClosed   = errors.New("partition buffer is closed")
	ErrConsumerClosed = errors.New("consumer is closed")
	ErrSinkClosed     = errors.New("sink is closed")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrConnectionLost = errors.New("connection lost")
)

// SpillError represents a failure while spilling a partition's buffer.
type SpillError struct {
	Partition record.PartitionID
	Err       error
}

func (e *SpillError) Error() string {
	return fmt.Sprintf("spill error: partition=%s: %v", e.Partition, e.Err)
}

func (e *SpillError) Unwrap() error {
	return e.Err
}

// SinkError represents a sink operation failure.
type SinkError struct {
	Backend   string
	Operation string
	Path      string
	Err       error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink error: backend=%s operation=%s path=%s: %v",
		e.Backend, e.Operation, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a SinkError is retryable based on the operation type.
func (e *SinkError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// ValidationError represents a record admission failure.
type ValidationError struct {
	Partition record.PartitionID
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: partition=%s field=%s: %s",
		e.Partition, e.Field, e.Reason)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking sentinel errors. Engine faults
// (ErrInconsistentAccounting, ErrCapacityExceeded) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}
