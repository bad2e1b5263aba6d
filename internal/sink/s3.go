// Package sink implements the S3 block sink.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Sink = (*S3Sink)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Sink persists spilled blocks to AWS S3. It provides multipart upload
// support, server-side encryption (SSE), and automatic retry handling for
// S3 operations.
type S3Sink struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	region      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *slog.Logger
	metrics     MetricsCollector
	mu          sync.Mutex
	closed      bool
}

// NewS3Sink creates a new S3 block sink.
func NewS3Sink(cfg S3Config, logger *slog.Logger, metrics MetricsCollector) (*S3Sink, error) {
	// Load AWS config
	ctx := context.Background()
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client
	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	// Create uploader with multipart upload support
	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5             // 5 concurrent uploads
	})

	logger.Info("S3 sink created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Sink{
		client:      s3Client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		region:      cfg.Region,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Write uploads one block to S3 under the given path prefix.
func (s *S3Sink) Write(ctx context.Context, block record.Block, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.ErrSinkClosed
	}

	startTime := time.Now()

	// Parse S3 URI to extract key
	// Path format: s3://bucket/key/path or just key/path
	s3Key := path
	if strings.HasPrefix(path, "s3://") {
		pathWithoutProtocol := strings.TrimPrefix(path, "s3://")
		parts := strings.SplitN(pathWithoutProtocol, "/", 2)
		if len(parts) == 2 {
			s3Key = parts[1]
		} else {
			s3Key = ""
		}
	}

	// Generate timestamped object name: block_YYYYMMDD_HHMMSS_NNN.bin
	now := time.Now()
	timestamp := now.Format("20060102_150405")
	filename := fmt.Sprintf("block_%s_%03d.bin", timestamp, now.Nanosecond()/1000000)
	s3Key = strings.TrimPrefix(s3Key+filename, "/")

	// Prepare upload input; blocks are opaque bytes, uploaded as-is
	uploadInput := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
		Body:   bytes.NewReader(block.Data),
	}

	// Add SSE if enabled
	if s.sseEnabled {
		if s.sseKMSKeyID != "" {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			uploadInput.SSEKMSKeyId = aws.String(s.sseKMSKeyID)
		} else {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	// Upload to S3
	result, err := s.uploader.Upload(ctx, uploadInput)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("s3", "upload")
		}
		return 0, &apperrors.SinkError{Backend: "s3", Operation: "upload", Path: s3Key, Err: err}
	}

	duration := time.Since(startTime)

	s.logger.Info("wrote block to S3",
		"bucket", s.bucket,
		"key", s3Key,
		"partition", block.Partition,
		"block_size", block.Size(),
		"location", result.Location,
		"total_duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.IncBlocksWritten("s3", "success")
		s.metrics.AddSinkBytesWritten("s3", float64(block.Size()))
		s.metrics.ObserveSinkWriteDuration("s3", duration.Seconds())
	}

	return block.Size(), nil
}

// Close closes the S3 sink.
func (s *S3Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing S3 sink")
	return nil
}
