// Package sink implements the Parquet archive sink.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/codec"
	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Sink = (*ParquetSink)(nil)

// BlockRecordParquet is the Parquet row schema for archived spill records.
// Keys and values are stored as raw bytes; Athena exposes them as BINARY.
type BlockRecordParquet struct {
	Partition  int32     `parquet:"partition"`
	Key        []byte    `parquet:"key,optional"`
	Value      []byte    `parquet:"value"`
	ArchivedAt time.Time `parquet:"archived_at,timestamp(microsecond)"`
}

// ParquetSink archives spilled blocks on the local filesystem in Apache
// Parquet columnar format. Unlike the raw sinks it decodes each block back
// into records, so the configured codec must match the one that produced
// the blocks. Supports SNAPPY (default), GZIP, LZ4 and ZSTD compression.
type ParquetSink struct {
	basePath      string
	codec         codec.Codec
	compression   string
	logger        *slog.Logger
	metrics       MetricsCollector
	mu            sync.Mutex
	fileSequence  int
	lastTimestamp string
	closed        bool
}

// NewParquetSink creates a new Parquet archive sink.
func NewParquetSink(config FileConfig, c codec.Codec, compression string, logger *slog.Logger, metrics MetricsCollector) (*ParquetSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("Parquet sink created",
		"base_path", config.BasePath,
		"codec", c.Format(),
		"compression", compression,
	)

	return &ParquetSink{
		basePath:    config.BasePath,
		codec:       c,
		compression: compression,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Write decodes one block and archives its records as a Parquet file under
// the given path prefix.
func (s *ParquetSink) Write(ctx context.Context, block record.Block, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.ErrSinkClosed
	}

	startTime := time.Now()

	rows, err := s.decodeBlock(block)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("parquet", "decode")
		}
		return 0, &apperrors.SinkError{Backend: "parquet", Operation: "decode", Path: path, Err: err}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	cleanPath := strings.TrimPrefix(path, "file://")
	filename := s.nextFilename(startTime)
	dir := filepath.Join(s.basePath, cleanPath)
	fullPath := filepath.Join(dir, filename)

	if err := os.MkdirAll(dir, 0755); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("parquet", "mkdir")
		}
		return 0, &apperrors.SinkError{Backend: "parquet", Operation: "mkdir", Path: dir, Err: err}
	}

	size, err := s.writeParquetFile(fullPath, rows)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("parquet", "write")
		}
		return 0, &apperrors.SinkError{Backend: "parquet", Operation: "write", Path: fullPath, Err: err}
	}

	duration := time.Since(startTime)

	s.logger.Info("archived block as Parquet",
		"path", fullPath,
		"partition", block.Partition,
		"record_count", len(rows),
		"block_size", block.Size(),
		"file_size", size,
		"total_duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.IncBlocksWritten("parquet", "success")
		s.metrics.AddSinkBytesWritten("parquet", float64(size))
		s.metrics.ObserveSinkWriteDuration("parquet", duration.Seconds())
	}

	return size, nil
}

// decodeBlock turns opaque block bytes back into Parquet rows.
func (s *ParquetSink) decodeBlock(block record.Block) ([]BlockRecordParquet, error) {
	dec, err := s.codec.NewDecoder(bytes.NewReader(block.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	now := time.Now().UTC()
	var rows []BlockRecordParquet
	for {
		key, value, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode block record: %w", err)
		}
		rows = append(rows, BlockRecordParquet{
			Partition:  int32(block.Partition),
			Key:        key,
			Value:      value,
			ArchivedAt: now,
		})
	}
	return rows, nil
}

// writeParquetFile writes rows to a Parquet file and returns its size.
func (s *ParquetSink) writeParquetFile(path string, rows []BlockRecordParquet) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	schema := parquet.SchemaOf(new(BlockRecordParquet))
	writer := parquet.NewGenericWriter[BlockRecordParquet](
		file,
		schema,
		compressionCodec(s.compression),
		parquet.CreatedBy("kafspill", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return 0, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return 0, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}

// nextFilename generates a timestamped archive filename. Caller must hold
// the mutex.
func (s *ParquetSink) nextFilename(now time.Time) string {
	timestamp := now.Format("20060102_150405")
	if timestamp == s.lastTimestamp {
		s.fileSequence++
	} else {
		s.fileSequence = 1
		s.lastTimestamp = timestamp
	}
	return fmt.Sprintf("block_%s_%03d.parquet", timestamp, s.fileSequence)
}

// Close closes the Parquet sink.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing Parquet sink")
	return nil
}
