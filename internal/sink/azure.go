// Package sink implements the Azure Blob Storage block sink.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Sink = (*AzureSink)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// AzureSink persists spilled blocks to Azure Blob Storage. It uses access
// key authentication, with automatic blob creation and hierarchical path
// organization.
type AzureSink struct {
	client        *azblob.Client
	containerName string
	logger        *slog.Logger
	metrics       MetricsCollector
	mu            sync.Mutex
	closed        bool
}

// NewAzureSink creates a new Azure Blob Storage block sink.
func NewAzureSink(cfg AzureConfig, logger *slog.Logger, metrics MetricsCollector) (*AzureSink, error) {
	// Build connection string
	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	// Create Azure client
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure sink created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureSink{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Write uploads one block to Azure Blob Storage under the given path prefix.
func (s *AzureSink) Write(ctx context.Context, block record.Block, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.ErrSinkClosed
	}

	startTime := time.Now()

	// Parse Azure URI to extract blob path
	blobPath := path
	if strings.HasPrefix(path, "wasbs://") {
		pathWithoutProtocol := strings.TrimPrefix(path, "wasbs://")
		parts := strings.SplitN(pathWithoutProtocol, "/", 2)
		if len(parts) == 2 {
			blobPath = parts[1]
		} else {
			blobPath = ""
		}
	}

	// Generate timestamped blob name: block_YYYYMMDD_HHMMSS_NNN.bin
	now := time.Now()
	timestamp := now.Format("20060102_150405")
	filename := fmt.Sprintf("block_%s_%03d.bin", timestamp, now.Nanosecond()/1000000)
	blobPath = strings.TrimPrefix(blobPath+filename, "/")

	// Upload block bytes to Azure Blob
	_, err := s.client.UploadBuffer(ctx, s.containerName, blobPath, block.Data, nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("azure", "upload")
		}
		return 0, &apperrors.SinkError{Backend: "azure", Operation: "upload", Path: blobPath, Err: err}
	}

	duration := time.Since(startTime)

	s.logger.Info("wrote block to Azure Blob",
		"container", s.containerName,
		"blob", blobPath,
		"partition", block.Partition,
		"block_size", block.Size(),
		"total_duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.IncBlocksWritten("azure", "success")
		s.metrics.AddSinkBytesWritten("azure", float64(block.Size()))
		s.metrics.ObserveSinkWriteDuration("azure", duration.Seconds())
	}

	return block.Size(), nil
}

// Close closes the Azure sink.
func (s *AzureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("Azure sink closed")
	return nil
}
