package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafspill/internal/buffer"
	internalcodec "github.com/jittakal/kafspill/internal/codec"
	"github.com/jittakal/kafspill/internal/config"
	"github.com/jittakal/kafspill/internal/config/dto"
	"github.com/jittakal/kafspill/internal/kafka"
	"github.com/jittakal/kafspill/internal/observability"
	"github.com/jittakal/kafspill/internal/server"
	"github.com/jittakal/kafspill/internal/sink"
	"github.com/jittakal/kafspill/internal/validator"
	"github.com/jittakal/kafspill/pkg/codec"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:   cfg.Observability.Logging.Level,
		Format:  cfg.Observability.Logging.Format,
		Service: cfg.Application.Name,
	})
	logger.Info("starting kafspill",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Track cleanup functions
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup error", "error", err)
			}
		}
	}()

	// Initialize record codec
	codecFactory := internalcodec.NewFactory(codec.Format(cfg.Codec.Format))
	recordCodec, err := codecFactory.CreateCodec()
	if err != nil {
		return fmt.Errorf("failed to create codec: %w", err)
	}

	// Initialize record validator
	recordValidator := validator.New(validator.Config{
		MaxKeyBytes:   cfg.Limits.MaxKeyBytes,
		MaxValueBytes: cfg.Limits.MaxValueBytes,
	})

	// Initialize block path router
	router := sink.NewRouter(
		sinkProtocol(cfg.Sink.Backend),
		sinkBucket(cfg),
		sinkBasePath(cfg),
	)

	// Initialize spill engine
	engine, err := buffer.NewManager(buffer.Config{
		IndividualBufferSize:    cfg.Buffer.IndividualBufferSizeBytes,
		IndividualBufferMax:     cfg.Buffer.IndividualBufferMaxBytes,
		AggregateSpillThreshold: cfg.Buffer.AggregateSpillThresholdBytes,
	}, recordCodec, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create spill engine: %w", err)
	}

	// Create block sink based on backend
	blockSink, err := newBlockSink(cfg, recordCodec, logger, metrics)
	if err != nil {
		return err
	}
	addCleanup("block-sink", blockSink.Close)

	// Initialize infrastructure
	consumerConfig := kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		EnableAutoCommit:    cfg.Kafka.Consumer.EnableAutoCommit,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}
	kafkaConsumer, err := kafka.NewSaramaConsumer(consumerConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	addCleanup("kafka-consumer", kafkaConsumer.Close)

	deadLetter, err := kafka.NewDeadLetterPublisher(
		cfg.Kafka.BootstrapServers,
		consumerConfig,
		kafka.DeadLetterConfig{
			Enabled:     cfg.Kafka.DeadLetter.Enabled,
			TopicSuffix: cfg.Kafka.DeadLetter.TopicSuffix,
		},
		logger,
		metrics,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead-letter publisher: %w", err)
	}
	addCleanup("dead-letter-publisher", deadLetter.Close)

	// Create health checker
	healthChecker := server.NewEngineHealthChecker()
	healthChecker.Observe(engine)

	// Start HTTP server
	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		healthChecker,
		registry,
		logger,
	)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	logger.Info("application started successfully")

	// Subscribe to topics
	if err := kafkaConsumer.Subscribe(context.Background(), cfg.Kafka.Consumer.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming
	recordChan, errorChan, err := kafkaConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	healthChecker.SetConsuming(true)

	ingest := &pipeline{
		engine:        engine,
		codec:         recordCodec,
		sink:          blockSink,
		router:        router,
		validator:     recordValidator,
		deadLetter:    deadLetter,
		healthChecker: healthChecker,
		defaultTopic:  cfg.Kafka.Consumer.Topics[0],
		logger:        logger,
	}

	// Start ingest loop in background
	consumeErrChan := make(chan error, 1)
	go func() {
		consumeErrChan <- ingest.processRecords(ctx, recordChan, errorChan)
	}()

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-consumeErrChan:
		if err != nil {
			logger.Error("ingest error", "error", err)
			return err
		}
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	healthChecker.SetConsuming(false)
	cancel()

	// Wait for the ingest loop to drain remaining buffers
	shutdownTimeout := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	select {
	case <-consumeErrChan:
	case <-time.After(shutdownTimeout):
		logger.Warn("ingest loop did not stop within grace period")
	}

	logger.Info("application stopped successfully")
	return nil
}

// pipeline connects the consumer to the spill engine and the engine's
// blocks to the sink.
type pipeline struct {
	engine        spill.Engine
	codec         codec.Codec
	sink          spill.Sink
	router        spill.Router
	validator     *validator.Validator
	deadLetter    *kafka.DeadLetterPublisher
	healthChecker *server.EngineHealthChecker
	defaultTopic  string
	logger        *slog.Logger
}

// processRecords runs the single-writer ingest loop. On shutdown it drains
// the engine via Clear so no buffered record is lost.
func (p *pipeline) processRecords(
	ctx context.Context,
	recordChan <-chan *record.ConsumedRecord,
	errorChan <-chan error,
) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, draining buffers")
			return p.drain(ctx)
		case err := <-errorChan:
			if err != nil {
				p.logger.Error("consumer error", "error", err)
			}
		case consumed, ok := <-recordChan:
			if !ok {
				p.logger.Info("record channel closed, draining buffers")
				return p.drain(ctx)
			}
			p.handleRecord(ctx, consumed)
		}
	}
}

func (p *pipeline) handleRecord(ctx context.Context, consumed *record.ConsumedRecord) {
	rec := consumed.Record

	// Validate record
	if err := p.validator.Validate(rec); err != nil {
		p.logger.Warn("invalid record",
			"topic", consumed.Topic,
			"partition", rec.Partition,
			"offset", consumed.Offset,
			"error", err,
		)

		_ = p.deadLetter.Publish(ctx, rec, consumed.Topic, "validation_failed")

		// Commit the offset to skip the bad record
		if consumed.CommitFunc != nil {
			_ = consumed.CommitFunc()
		}
		return
	}

	// Route to the partition buffer
	blocks, err := p.engine.AddRecord(rec.Partition, rec.Key, rec.Value)
	if err != nil {
		p.logger.Error("failed to buffer record",
			"topic", consumed.Topic,
			"partition", rec.Partition,
			"offset", consumed.Offset,
			"error", err,
		)

		_ = p.deadLetter.Publish(ctx, rec, consumed.Topic, "buffer_failed")

		if consumed.CommitFunc != nil {
			_ = consumed.CommitFunc()
		}
		p.healthChecker.Observe(p.engine)
		return
	}

	p.writeBlocks(ctx, blocks, consumed.Topic)

	// Commit offset
	if consumed.CommitFunc != nil {
		if err := consumed.CommitFunc(); err != nil {
			p.logger.Error("failed to commit offset",
				"topic", consumed.Topic,
				"partition", rec.Partition,
				"offset", consumed.Offset,
				"error", err,
			)
		}
	}

	p.healthChecker.Observe(p.engine)
}

// writeBlocks persists spilled blocks. A failed block is decoded back into
// records and each record republished to the dead-letter topic, so a sink
// outage degrades to replayable messages instead of data loss.
func (p *pipeline) writeBlocks(ctx context.Context, blocks []record.Block, topic string) {
	now := time.Now().Unix()

	for _, block := range blocks {
		path := p.router.Route(block.Partition, now)

		bytesWritten, err := p.sink.Write(ctx, block, path)
		if err != nil {
			p.logger.Error("failed to write block",
				"partition", block.Partition,
				"block_size", block.Size(),
				"path", path,
				"error", err,
			)
			p.deadLetterBlock(ctx, block, topic)
			continue
		}

		p.logger.Info("wrote block",
			"partition", block.Partition,
			"bytes", bytesWritten,
			"path", path,
		)
	}
}

// deadLetterBlock decodes a failed block and republishes its records.
func (p *pipeline) deadLetterBlock(ctx context.Context, block record.Block, topic string) {
	dec, err := p.codec.NewDecoder(bytes.NewReader(block.Data))
	if err != nil {
		p.logger.Error("failed to decode failed block", "partition", block.Partition, "error", err)
		return
	}

	for {
		key, value, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			p.logger.Error("failed to decode failed block record",
				"partition", block.Partition,
				"error", err,
			)
			return
		}

		rec := record.Record{Partition: block.Partition, Key: key, Value: value}
		if err := p.deadLetter.Publish(ctx, rec, topic, "sink_failed"); err != nil {
			p.logger.Error("failed to dead-letter record",
				"partition", block.Partition,
				"error", err,
			)
		}
	}
}

// drain spills every open buffer and persists the resulting blocks.
func (p *pipeline) drain(ctx context.Context) error {
	blocks, err := p.engine.Clear()
	if err != nil {
		p.logger.Error("failed to drain buffers", "error", err)
	}

	if len(blocks) > 0 {
		p.logger.Info("draining spilled blocks", "blocks", len(blocks))
		// Persist with a fresh context: the loop context is already cancelled
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.writeBlocks(drainCtx, blocks, p.defaultTopic)
	}

	p.healthChecker.Observe(p.engine)
	return err
}

// newBlockSink creates the configured sink backend.
func newBlockSink(cfg *dto.ApplicationConfig, recordCodec codec.Codec, logger *slog.Logger, metrics *observability.Metrics) (spill.Sink, error) {
	switch cfg.Sink.Backend {
	case "file":
		fileConfig := sink.FileConfig{BasePath: cfg.Sink.File.BasePath}
		if cfg.Sink.ArchiveMode == "parquet" {
			return sink.NewParquetSink(fileConfig, recordCodec, cfg.Sink.Compression, logger, metrics)
		}
		return sink.NewFileSink(fileConfig, logger, metrics)
	case "s3":
		return sink.NewS3Sink(sink.S3Config{
			Bucket:       cfg.Sink.S3.Bucket,
			Region:       cfg.Sink.S3.Region,
			Endpoint:     cfg.Sink.S3.Endpoint,
			UsePathStyle: cfg.Sink.S3.UsePathStyle,
			SSEEnabled:   cfg.Sink.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Sink.S3.SSEKMSKeyID,
		}, logger, metrics)
	case "azure":
		return sink.NewAzureSink(sink.AzureConfig{
			AccountName:   cfg.Sink.Azure.AccountName,
			AccountKey:    os.Getenv("AZURE_STORAGE_ACCOUNT_KEY"),
			ContainerName: cfg.Sink.Azure.Container,
		}, logger, metrics)
	case "gcs":
		return sink.NewGCSSink(sink.GCSConfig{
			Bucket:               cfg.Sink.GCS.Bucket,
			ProjectID:            cfg.Sink.GCS.ProjectID,
			CredentialsFile:      cfg.Sink.GCS.CredentialsFile,
			CredentialsJSON:      os.Getenv("GCP_CREDENTIALS_JSON"),
			UseDefaultCredential: cfg.Sink.GCS.UseDefaultCredential,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported sink backend: %s (supported: file, s3, azure, gcs)", cfg.Sink.Backend)
	}
}

func sinkProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

func sinkBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Sink.Backend {
	case "s3":
		return cfg.Sink.S3.Bucket
	case "azure":
		return cfg.Sink.Azure.Container
	case "gcs":
		return cfg.Sink.GCS.Bucket
	default:
		// File backend uses basePath only, no bucket
		return ""
	}
}

func sinkBasePath(cfg *dto.ApplicationConfig) string {
	switch cfg.Sink.Backend {
	case "s3":
		return cfg.Sink.S3.BasePath
	case "gcs":
		return cfg.Sink.GCS.BasePath
	default:
		return ""
	}
}
