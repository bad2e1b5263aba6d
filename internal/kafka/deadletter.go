// Package kafka implements dead-letter republishing.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/consumer"
	"github.com/jittakal/kafspill/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DeadLetterPublisher = (*DeadLetterPublisher)(nil)

// DeadLetterConfig contains dead-letter topic configuration.
type DeadLetterConfig struct {
	Enabled     bool
	TopicSuffix string
}

// DeadLetterMetricsCollector defines metrics operations for the publisher.
type DeadLetterMetricsCollector interface {
	IncDeadLetters(topic string, reason string)
}

// DeadLetterPublisher republishes records whose spilled blocks could not be
// persisted. The original key and value bytes are forwarded unchanged; the
// failure context travels in message headers so downstream tooling can
// replay the record without unwrapping an envelope.
type DeadLetterPublisher struct {
	producer sarama.SyncProducer
	config   DeadLetterConfig
	logger   *slog.Logger
	metrics  DeadLetterMetricsCollector
	mu       sync.RWMutex
	closed   bool
}

// NewDeadLetterPublisher creates a new dead-letter publisher.
func NewDeadLetterPublisher(
	bootstrapServers []string,
	securityConfig ConsumerConfig,
	dlConfig DeadLetterConfig,
	logger *slog.Logger,
	metrics DeadLetterMetricsCollector,
) (*DeadLetterPublisher, error) {
	if !dlConfig.Enabled {
		logger.Info("dead-letter publishing is disabled")
		return &DeadLetterPublisher{
			config:  dlConfig,
			logger:  logger,
			metrics: metrics,
			closed:  true,
		}, nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Security configuration (reuse consumer security)
	if err := configureSecurity(saramaConfig, securityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("dead-letter publisher created",
		"bootstrap_servers", bootstrapServers,
		"topic_suffix", dlConfig.TopicSuffix,
	)

	return &DeadLetterPublisher{
		producer: producer,
		config:   dlConfig,
		logger:   logger,
		metrics:  metrics,
		closed:   false,
	}, nil
}

// Publish sends a record to the dead-letter topic with a failure reason.
func (p *DeadLetterPublisher) Publish(ctx context.Context, rec record.Record, topic string, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.config.Enabled {
		p.logger.Debug("dead-letter publishing disabled, skipping")
		return nil
	}

	if p.closed {
		return errors.ErrConsumerClosed
	}

	deadLetterTopic := topic + p.config.TopicSuffix

	msg := &sarama.ProducerMessage{
		Topic: deadLetterTopic,
		Key:   sarama.ByteEncoder(rec.Key),
		Value: sarama.ByteEncoder(rec.Value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("failure_reason"),
				Value: []byte(reason),
			},
			{
				Key:   []byte("original_topic"),
				Value: []byte(topic),
			},
			{
				Key:   []byte("original_partition"),
				Value: []byte(strconv.FormatInt(int64(rec.Partition), 10)),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to dead-letter topic",
			"error", err,
			"dead_letter_topic", deadLetterTopic,
			"original_partition", rec.Partition,
		)
		return fmt.Errorf("failed to send message to dead-letter topic: %w", err)
	}

	p.logger.Info("published record to dead-letter topic",
		"dead_letter_topic", deadLetterTopic,
		"partition", partition,
		"offset", offset,
		"original_partition", rec.Partition,
		"reason", reason,
	)

	if p.metrics != nil {
		p.metrics.IncDeadLetters(topic, reason)
	}

	return nil
}

// Close closes the dead-letter publisher.
func (p *DeadLetterPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.logger.Info("closing dead-letter publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("dead-letter publisher closed")
	return nil
}
