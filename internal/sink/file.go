// Package sink implements spill block sinks.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Sink = (*FileSink)(nil)

// MetricsCollector defines metrics operations for sinks.
type MetricsCollector interface {
	IncBlocksWritten(backend string, status string)
	ObserveSinkWriteDuration(backend string, duration float64)
	AddSinkBytesWritten(backend string, bytes float64)
	IncSinkErrors(backend string, operation string)
}

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileSink persists spilled blocks on the local filesystem. Blocks are
// written as opaque files under a hierarchical directory structure with
// timestamped names; a sequence counter disambiguates blocks written within
// the same second.
type FileSink struct {
	basePath      string
	extension     string
	logger        *slog.Logger
	metrics       MetricsCollector
	mu            sync.Mutex
	fileSequence  int
	lastTimestamp string
	closed        bool
}

// NewFileSink creates a new filesystem block sink.
func NewFileSink(config FileConfig, logger *slog.Logger, metrics MetricsCollector) (*FileSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem sink created", "base_path", config.BasePath)

	return &FileSink{
		basePath:  config.BasePath,
		extension: ".bin",
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Write persists one block under the given path prefix.
func (s *FileSink) Write(ctx context.Context, block record.Block, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.ErrSinkClosed
	}

	startTime := time.Now()

	// Strip file:// protocol prefix if present
	cleanPath := strings.TrimPrefix(path, "file://")

	filename := s.nextFilename(startTime)
	dir := filepath.Join(s.basePath, cleanPath)
	fullPath := filepath.Join(dir, filename)

	if err := os.MkdirAll(dir, 0755); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("file", "mkdir")
		}
		return 0, &apperrors.SinkError{Backend: "file", Operation: "mkdir", Path: dir, Err: err}
	}

	if err := os.WriteFile(fullPath, block.Data, 0644); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("file", "write")
		}
		return 0, &apperrors.SinkError{Backend: "file", Operation: "write", Path: fullPath, Err: err}
	}

	duration := time.Since(startTime)

	s.logger.Info("wrote block to file",
		"path", fullPath,
		"partition", block.Partition,
		"block_size", block.Size(),
		"total_duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.IncBlocksWritten("file", "success")
		s.metrics.AddSinkBytesWritten("file", float64(block.Size()))
		s.metrics.ObserveSinkWriteDuration("file", duration.Seconds())
	}

	return block.Size(), nil
}

// nextFilename generates a timestamped block filename:
// block_YYYYMMDD_HHMMSS_NNN{ext}. Caller must hold the mutex.
func (s *FileSink) nextFilename(now time.Time) string {
	timestamp := now.Format("20060102_150405")
	if timestamp == s.lastTimestamp {
		s.fileSequence++
	} else {
		s.fileSequence = 1
		s.lastTimestamp = timestamp
	}
	return fmt.Sprintf("block_%s_%03d%s", timestamp, s.fileSequence, s.extension)
}

// Close closes the sink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing filesystem sink")
	return nil
}
