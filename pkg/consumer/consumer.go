// Package consumer defines interfaces for record ingestion.
//
// This package provides abstractions for consuming key/value records from
// Kafka and for republishing records whose spilled blocks could not be
// persisted.
package consumer

import (
	"context"

	"github.com/jittakal/kafspill/pkg/record"
)

// Consumer reads records from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming records from subscribed topics.
	// Returns channels for records and errors.
	Consume(ctx context.Context) (<-chan *record.ConsumedRecord, <-chan error, error)

	// Close closes the consumer and releases resources.
	Close() error
}

// DeadLetterPublisher republishes records that could not be persisted.
type DeadLetterPublisher interface {
	// Publish sends a record to the dead-letter topic with a failure reason.
	Publish(ctx context.Context, rec record.Record, topic string, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
