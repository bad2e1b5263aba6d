package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	internalcodec "github.com/jittakal/kafspill/internal/codec"
	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/codec"
	"github.com/jittakal/kafspill/pkg/record"
)

// mockMetricsCollector implements MetricsCollector for testing
type mockMetricsCollector struct {
	blocksWritten      int
	bytesWritten       []float64
	writeDurations     []float64
	sinkErrors         int
	lastBackend        string
	lastStatus         string
	lastErrorBackend   string
	lastErrorOperation string
}

func (m *mockMetricsCollector) IncBlocksWritten(backend string, status string) {
	m.blocksWritten++
	m.lastBackend = backend
	m.lastStatus = status
}

func (m *mockMetricsCollector) ObserveSinkWriteDuration(backend string, duration float64) {
	m.writeDurations = append(m.writeDurations, duration)
}

func (m *mockMetricsCollector) AddSinkBytesWritten(backend string, bytes float64) {
	m.bytesWritten = append(m.bytesWritten, bytes)
}

func (m *mockMetricsCollector) IncSinkErrors(backend string, operation string) {
	m.sinkErrors++
	m.lastErrorBackend = backend
	m.lastErrorOperation = operation
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeBlock builds block bytes holding the given key/value pairs.
func encodeBlock(t *testing.T, c codec.Codec, partition record.PartitionID, pairs [][2][]byte) record.Block {
	t.Helper()
	var buf bytes.Buffer
	enc, err := c.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() failed: %v", err)
	}
	for _, p := range pairs {
		if err := enc.EncodeKey(p[0]); err != nil {
			t.Fatalf("EncodeKey() failed: %v", err)
		}
		if err := enc.EncodeValue(p[1]); err != nil {
			t.Fatalf("EncodeValue() failed: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	return record.Block{Partition: partition, Data: buf.Bytes()}
}

func TestNewFileSink(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "blocks")

	sink, err := NewFileSink(FileConfig{BasePath: basePath}, testLogger(), &mockMetricsCollector{})
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	if sink.basePath != basePath {
		t.Errorf("basePath = %v, want %v", sink.basePath, basePath)
	}
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		t.Errorf("expected base path %s to exist", basePath)
	}
}

func TestFileSink_Write(t *testing.T) {
	basePath := t.TempDir()
	metrics := &mockMetricsCollector{}

	sink, err := NewFileSink(FileConfig{BasePath: basePath}, testLogger(), metrics)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}

	block := record.Block{Partition: 3, Data: []byte("opaque block bytes")}
	path := "dt=2026-08-25/pid=3/"

	size, err := sink.Write(context.Background(), block, path)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if size != block.Size() {
		t.Errorf("Write() size = %d, want %d", size, block.Size())
	}

	// Verify the block landed under the routed directory with its bytes intact
	dirPath := filepath.Join(basePath, path)
	entries, err := os.ReadDir(dirPath)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected files in directory %s", dirPath)
	}
	data, err := os.ReadFile(filepath.Join(dirPath, entries[0].Name()))
	if err != nil {
		t.Fatalf("failed to read written block: %v", err)
	}
	if !bytes.Equal(data, block.Data) {
		t.Errorf("written bytes = %q, want %q", data, block.Data)
	}

	if metrics.blocksWritten != 1 {
		t.Errorf("blocksWritten = %d, want 1", metrics.blocksWritten)
	}
	if metrics.lastStatus != "success" {
		t.Errorf("lastStatus = %s, want success", metrics.lastStatus)
	}
	if len(metrics.bytesWritten) != 1 || metrics.bytesWritten[0] != float64(block.Size()) {
		t.Errorf("bytesWritten = %v, want [%d]", metrics.bytesWritten, block.Size())
	}
}

func TestFileSink_WriteStripsProtocolPrefix(t *testing.T) {
	basePath := t.TempDir()

	sink, err := NewFileSink(FileConfig{BasePath: basePath}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}

	block := record.Block{Partition: 1, Data: []byte("x")}
	if _, err := sink.Write(context.Background(), block, "file://dt=2026-08-25/pid=1/"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	dirPath := filepath.Join(basePath, "dt=2026-08-25/pid=1")
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		t.Errorf("expected directory at %s", dirPath)
	}
}

func TestFileSink_SequenceWithinSecond(t *testing.T) {
	basePath := t.TempDir()

	sink, err := NewFileSink(FileConfig{BasePath: basePath}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}

	now := time.Now()
	first := sink.nextFilename(now)
	second := sink.nextFilename(now)
	if first == second {
		t.Errorf("filenames within the same second collide: %s", first)
	}
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	sink, err := NewFileSink(FileConfig{BasePath: t.TempDir()}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = sink.Write(context.Background(), record.Block{Partition: 0, Data: []byte("x")}, "p/")
	if !errors.Is(err, apperrors.ErrSinkClosed) {
		t.Errorf("Write() after Close error = %v, want ErrSinkClosed", err)
	}
}

func TestNewRouter(t *testing.T) {
	router := NewRouter("s3", "my-bucket", "blocks")

	if router.protocol != "s3" {
		t.Errorf("protocol = %v, want s3", router.protocol)
	}
	if router.bucket != "my-bucket" {
		t.Errorf("bucket = %v, want my-bucket", router.bucket)
	}
	if router.basePath != "blocks" {
		t.Errorf("basePath = %v, want blocks", router.basePath)
	}
}

func TestDefaultRouter_Route(t *testing.T) {
	router := NewRouter("s3", "test-bucket", "base")

	// Use a fixed timestamp for consistent testing
	timestamp := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC).Unix()

	tests := []struct {
		name      string
		partition record.PartitionID
		want      string
	}{
		{"partition 3", 3, "s3://test-bucket/base/dt=2026-08-25/pid=3/"},
		{"partition 0", 0, "s3://test-bucket/base/dt=2026-08-25/pid=0/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := router.Route(tt.partition, timestamp)
			if got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParquetSink_Write(t *testing.T) {
	basePath := t.TempDir()
	metrics := &mockMetricsCollector{}

	c, err := internalcodec.NewFactory(codec.FormatBinary).CreateCodec()
	if err != nil {
		t.Fatalf("CreateCodec() failed: %v", err)
	}

	sink, err := NewParquetSink(FileConfig{BasePath: basePath}, c, "snappy", testLogger(), metrics)
	if err != nil {
		t.Fatalf("NewParquetSink() failed: %v", err)
	}

	block := encodeBlock(t, c, 5, [][2][]byte{
		{[]byte("k1"), []byte("v01")},
		{[]byte("k2"), []byte("v02")},
	})

	size, err := sink.Write(context.Background(), block, "dt=2026-08-25/pid=5/")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if size <= 0 {
		t.Errorf("Write() size = %d, want > 0", size)
	}

	dirPath := filepath.Join(basePath, "dt=2026-08-25/pid=5")
	entries, err := os.ReadDir(dirPath)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected parquet files in directory %s", dirPath)
	}
	if filepath.Ext(entries[0].Name()) != ".parquet" {
		t.Errorf("archive file = %s, want .parquet extension", entries[0].Name())
	}

	if metrics.blocksWritten != 1 {
		t.Errorf("blocksWritten = %d, want 1", metrics.blocksWritten)
	}
}

func TestParquetSink_WriteCorruptBlock(t *testing.T) {
	metrics := &mockMetricsCollector{}

	c, err := internalcodec.NewFactory(codec.FormatBinary).CreateCodec()
	if err != nil {
		t.Fatalf("CreateCodec() failed: %v", err)
	}

	sink, err := NewParquetSink(FileConfig{BasePath: t.TempDir()}, c, "snappy", testLogger(), metrics)
	if err != nil {
		t.Fatalf("NewParquetSink() failed: %v", err)
	}

	// A length prefix promising more bytes than the block holds
	block := record.Block{Partition: 1, Data: []byte{0xFF, 0x01}}

	_, err = sink.Write(context.Background(), block, "p/")
	if err == nil {
		t.Fatal("Write() succeeded on corrupt block, want error")
	}
	var sinkErr *apperrors.SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("Write() error = %T, want *SinkError", err)
	}
	if sinkErr.Operation != "decode" {
		t.Errorf("SinkError.Operation = %s, want decode", sinkErr.Operation)
	}
	if metrics.sinkErrors != 1 {
		t.Errorf("sinkErrors = %d, want 1", metrics.sinkErrors)
	}
}

func TestSinkError_Retryable(t *testing.T) {
	uploadErr := &apperrors.SinkError{Backend: "s3", Operation: "upload", Path: "p", Err: errors.New("timeout")}
	decodeErr := &apperrors.SinkError{Backend: "parquet", Operation: "decode", Path: "p", Err: errors.New("bad frame")}

	if !apperrors.IsRetryable(uploadErr) {
		t.Error("upload error should be retryable")
	}
	if apperrors.IsRetryable(decodeErr) {
		t.Error("decode error should not be retryable")
	}
}
