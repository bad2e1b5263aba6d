// Package sink implements the Google Cloud Storage block sink.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Sink = (*GCSSink)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSSink persists spilled blocks to Google Cloud Storage. It supports
// multiple authentication methods (service account file, JSON, default
// credentials), with automatic object creation and hierarchical path
// organization.
type GCSSink struct {
	client  *storage.Client
	bucket  string
	logger  *slog.Logger
	metrics MetricsCollector
	mu      sync.Mutex
	closed  bool
}

// NewGCSSink creates a new Google Cloud Storage block sink.
func NewGCSSink(cfg GCSConfig, logger *slog.Logger, metrics MetricsCollector) (*GCSSink, error) {
	ctx := context.Background()

	// Determine authentication method
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.UseDefaultCredential {
		// Use default credentials (ADC)
		// This will use GOOGLE_APPLICATION_CREDENTIALS env var or default service account
		logger.Info("using default GCP credentials")
	} else if cfg.CredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	} else {
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	// Create GCS client
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS sink created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
	)

	return &GCSSink{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Write uploads one block to Google Cloud Storage under the given path prefix.
func (s *GCSSink) Write(ctx context.Context, block record.Block, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.ErrSinkClosed
	}

	startTime := time.Now()

	// Parse GCS URI to extract object path
	// Path format: gs://bucket/object/path or just object/path
	objectPath := path
	if strings.HasPrefix(path, "gs://") {
		pathWithoutProtocol := strings.TrimPrefix(path, "gs://")
		parts := strings.SplitN(pathWithoutProtocol, "/", 2)
		if len(parts) == 2 {
			objectPath = parts[1]
		} else {
			objectPath = ""
		}
	}

	// Generate timestamped object name: block_YYYYMMDD_HHMMSS_NNN.bin
	now := time.Now()
	timestamp := now.Format("20060102_150405")
	filename := fmt.Sprintf("block_%s_%03d.bin", timestamp, now.Nanosecond()/1000000)
	objectPath = strings.TrimPrefix(objectPath+filename, "/")

	// Create GCS object writer
	obj := s.client.Bucket(s.bucket).Object(objectPath)
	gcsWriter := obj.NewWriter(ctx)
	gcsWriter.ContentType = "application/octet-stream"

	// Copy block bytes to GCS
	bytesWritten, err := io.Copy(gcsWriter, bytes.NewReader(block.Data))
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("gcs", "upload")
		}
		gcsWriter.Close()
		return 0, &apperrors.SinkError{Backend: "gcs", Operation: "upload", Path: objectPath, Err: err}
	}

	// Close the writer to finalize the upload
	if err := gcsWriter.Close(); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("gcs", "close")
		}
		return 0, &apperrors.SinkError{Backend: "gcs", Operation: "close", Path: objectPath, Err: err}
	}

	duration := time.Since(startTime)

	s.logger.Info("wrote block to GCS",
		"bucket", s.bucket,
		"object", objectPath,
		"partition", block.Partition,
		"block_size", block.Size(),
		"bytes_written", bytesWritten,
		"total_duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.IncBlocksWritten("gcs", "success")
		s.metrics.AddSinkBytesWritten("gcs", float64(block.Size()))
		s.metrics.ObserveSinkWriteDuration("gcs", duration.Seconds())
	}

	return block.Size(), nil
}

// Close closes the GCS sink.
func (s *GCSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing GCS sink")
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
