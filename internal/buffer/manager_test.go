package buffer

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	internalcodec "github.com/jittakal/kafspill/internal/codec"
	apperrors "github.com/jittakal/kafspill/internal/errors"
	"github.com/jittakal/kafspill/pkg/record"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	mgr, err := NewManager(cfg, internalcodec.NewBinaryCodec(), testLogger(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

// sevenByteRecord encodes to exactly 7 bytes with the binary codec:
// 1-byte length prefix + 2-byte key + 1-byte length prefix + 3-byte value.
func sevenByteRecord() (key, value []byte) {
	return []byte("k1"), []byte("v01")
}

// decodeBlocks decodes every key/value pair out of the given blocks.
func decodeBlocks(t *testing.T, blocks []record.Block) [][2][]byte {
	t.Helper()
	c := internalcodec.NewBinaryCodec()
	var pairs [][2][]byte
	for _, blk := range blocks {
		dec, err := c.NewDecoder(bytes.NewReader(blk.Data))
		if err != nil {
			t.Fatalf("NewDecoder() error = %v", err)
		}
		for {
			key, value, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			pairs = append(pairs, [2][]byte{key, value})
		}
	}
	return pairs
}

func mustFilledBytes(t *testing.T, mgr *Manager) int64 {
	t.Helper()
	filled, err := mgr.FilledBytes()
	if err != nil {
		t.Fatalf("FilledBytes() error = %v", err)
	}
	return filled
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{IndividualBufferSize: 10, IndividualBufferMax: 100, AggregateSpillThreshold: 20}, false},
		{"aggregate below individual is legal", Config{IndividualBufferSize: 10, IndividualBufferMax: 100, AggregateSpillThreshold: 5}, false},
		{"zero individual size", Config{IndividualBufferSize: 0, IndividualBufferMax: 100, AggregateSpillThreshold: 20}, true},
		{"zero max", Config{IndividualBufferSize: 10, IndividualBufferMax: 0, AggregateSpillThreshold: 20}, true},
		{"zero aggregate", Config{IndividualBufferSize: 10, IndividualBufferMax: 100, AggregateSpillThreshold: 0}, true},
		{"size above max", Config{IndividualBufferSize: 200, IndividualBufferMax: 100, AggregateSpillThreshold: 20}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddRecordBuffersBelowThreshold(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    20,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})

	key, value := sevenByteRecord()
	blocks, err := mgr.AddRecord(1, key, value)
	if err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("AddRecord() returned %d blocks, want 0", len(blocks))
	}
	if got := mustFilledBytes(t, mgr); got != 7 {
		t.Errorf("FilledBytes() = %d, want 7", got)
	}
	if got := mgr.RecordsWritten(); got != 1 {
		t.Errorf("RecordsWritten() = %d, want 1", got)
	}
	if got := mgr.Spills(); got != 0 {
		t.Errorf("Spills() = %d, want 0", got)
	}
}

func TestIndividualThresholdSinglePartition(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    20,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})
	key, value := sevenByteRecord()

	// The pattern must repeat identically across two spill cycles.
	for cycle := 0; cycle < 2; cycle++ {
		for call := 1; call <= 2; call++ {
			blocks, err := mgr.AddRecord(3, key, value)
			if err != nil {
				t.Fatalf("cycle %d call %d: AddRecord() error = %v", cycle, call, err)
			}
			if len(blocks) != 0 {
				t.Fatalf("cycle %d call %d: got %d blocks, want 0", cycle, call, len(blocks))
			}
			if got := mustFilledBytes(t, mgr); got != int64(7*call) {
				t.Errorf("cycle %d call %d: FilledBytes() = %d, want %d", cycle, call, got, 7*call)
			}
		}

		// Third record crosses 20 bytes: the whole buffer spills.
		blocks, err := mgr.AddRecord(3, key, value)
		if err != nil {
			t.Fatalf("cycle %d: AddRecord() error = %v", cycle, err)
		}
		if len(blocks) != 1 {
			t.Fatalf("cycle %d: got %d blocks, want 1", cycle, len(blocks))
		}
		if blocks[0].Partition != 3 {
			t.Errorf("cycle %d: block partition = %v, want 3", cycle, blocks[0].Partition)
		}
		if blocks[0].Size() != 21 {
			t.Errorf("cycle %d: block size = %d, want 21", cycle, blocks[0].Size())
		}
		if got := mustFilledBytes(t, mgr); got != 0 {
			t.Errorf("cycle %d: FilledBytes() after spill = %d, want 0", cycle, got)
		}

		pairs := decodeBlocks(t, blocks)
		if len(pairs) != 3 {
			t.Errorf("cycle %d: decoded %d records from block, want 3", cycle, len(pairs))
		}
	}

	if got := mgr.Spills(); got != 2 {
		t.Errorf("Spills() = %d, want 2", got)
	}
	if got := mgr.RecordsWritten(); got != 6 {
		t.Errorf("RecordsWritten() = %d, want 6", got)
	}
}

func TestAggregateThreshold(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    10,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 20,
	})
	key, value := sevenByteRecord()

	for _, partition := range []record.PartitionID{1, 2} {
		blocks, err := mgr.AddRecord(partition, key, value)
		if err != nil {
			t.Fatalf("AddRecord(%v) error = %v", partition, err)
		}
		if len(blocks) != 0 {
			t.Fatalf("AddRecord(%v) returned %d blocks, want 0", partition, len(blocks))
		}
	}
	if got := mustFilledBytes(t, mgr); got != 14 {
		t.Fatalf("FilledBytes() = %d, want 14", got)
	}

	// Third partition pushes the aggregate to 21: everything sweeps.
	blocks, err := mgr.AddRecord(3, key, value)
	if err != nil {
		t.Fatalf("AddRecord(3) error = %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}

	seen := make(map[record.PartitionID]bool)
	for _, blk := range blocks {
		if seen[blk.Partition] {
			t.Errorf("partition %v spilled twice in one call", blk.Partition)
		}
		seen[blk.Partition] = true
	}
	for _, want := range []record.PartitionID{1, 2, 3} {
		if !seen[want] {
			t.Errorf("partition %v missing from sweep", want)
		}
	}

	if got := mustFilledBytes(t, mgr); got != 0 {
		t.Errorf("FilledBytes() after sweep = %d, want 0", got)
	}
	if got := mgr.Spills(); got != 1 {
		t.Errorf("Spills() = %d, want 1 (one aggregate event)", got)
	}
}

func TestMultiPartitionInterleave(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    20,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 30,
	})
	key, value := sevenByteRecord()

	// Alternate p1, p2 until p1 holds two records and p2 holds two records.
	feed := []record.PartitionID{1, 2, 1, 2}
	for i, partition := range feed {
		blocks, err := mgr.AddRecord(partition, key, value)
		if err != nil {
			t.Fatalf("call %d: AddRecord() error = %v", i+1, err)
		}
		if len(blocks) != 0 {
			t.Fatalf("call %d: got %d blocks, want 0", i+1, len(blocks))
		}
	}

	before := mustFilledBytes(t, mgr)
	if before != 28 {
		t.Fatalf("FilledBytes() = %d, want 28", before)
	}

	// Third record for p1 crosses its own 20-byte threshold; p2 survives.
	blocks, err := mgr.AddRecord(1, key, value)
	if err != nil {
		t.Fatalf("AddRecord(1) error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Partition != 1 {
		t.Errorf("block partition = %v, want 1", blocks[0].Partition)
	}

	after := mustFilledBytes(t, mgr)
	if after <= 0 || after >= before {
		t.Errorf("FilledBytes() after = %d, want 0 < after < %d", after, before)
	}
	if after != 14 {
		t.Errorf("FilledBytes() after = %d, want 14 (partition 2 intact)", after)
	}
}

func TestOversizedFirstRecordBypassesMap(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    5,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})
	key, value := sevenByteRecord()

	blocks, err := mgr.AddRecord(9, key, value)
	if err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 singleton", len(blocks))
	}
	if blocks[0].Partition != 9 || blocks[0].Size() != 7 {
		t.Errorf("block = (%v, %d bytes), want (9, 7 bytes)", blocks[0].Partition, blocks[0].Size())
	}

	// The record never occupied map or counter state.
	if got := mustFilledBytes(t, mgr); got != 0 {
		t.Errorf("FilledBytes() = %d, want 0", got)
	}
	if got := mgr.Stats().OpenBuffers; got != 0 {
		t.Errorf("OpenBuffers = %d, want 0", got)
	}

	// The bypass path counts toward RecordsWritten like every other path.
	if got := mgr.RecordsWritten(); got != 1 {
		t.Errorf("RecordsWritten() = %d, want 1", got)
	}
	if got := mgr.Spills(); got != 1 {
		t.Errorf("Spills() = %d, want 1", got)
	}
}

func TestCapacityExceeded(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    16,
		IndividualBufferMax:     16,
		AggregateSpillThreshold: 1 << 20,
	})

	key, value := sevenByteRecord()
	if _, err := mgr.AddRecord(1, key, value); err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}

	// A 32-byte value cannot fit the 16-byte backing region.
	_, err := mgr.AddRecord(1, key, bytes.Repeat([]byte("x"), 32))
	if !errors.Is(err, apperrors.ErrCapacityExceeded) {
		t.Fatalf("AddRecord() error = %v, want ErrCapacityExceeded", err)
	}

	// Accounting stays consistent even on the error path.
	if _, err := mgr.FilledBytes(); err != nil {
		t.Errorf("FilledBytes() after capacity error = %v, want nil", err)
	}
}

func TestClear(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    100,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})
	key, value := sevenByteRecord()

	for _, partition := range []record.PartitionID{1, 2, 3} {
		if _, err := mgr.AddRecord(partition, key, value); err != nil {
			t.Fatalf("AddRecord(%v) error = %v", partition, err)
		}
	}

	blocks, err := mgr.Clear()
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("Clear() returned %d blocks, want 3", len(blocks))
	}
	if got := mustFilledBytes(t, mgr); got != 0 {
		t.Errorf("FilledBytes() after Clear = %d, want 0", got)
	}
	if got := mgr.Spills(); got != 1 {
		t.Errorf("Spills() = %d, want 1", got)
	}
}

func TestClearEmpty(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    100,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})

	blocks, err := mgr.Clear()
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("Clear() on empty manager returned %d blocks, want 0", len(blocks))
	}
	if got := mgr.Spills(); got != 0 {
		t.Errorf("Spills() = %d, want 0 (empty clear is not a spill event)", got)
	}
}

func TestRandomizedStress(t *testing.T) {
	const totalRecords = 2000
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    10,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 20,
	})

	shapes := [][2][]byte{
		{[]byte("a"), []byte("b")},                   // 4 bytes encoded
		{[]byte("k1"), []byte("v01")},                // 7 bytes encoded
		{[]byte("key"), []byte("12345")},             // 10 bytes: oversized singleton
		{[]byte("longerkey"), []byte("longervalue")}, // 22 bytes: oversized singleton
		{nil, []byte("x")},                           // 3 bytes encoded
	}
	members := make(map[string]bool, len(shapes))
	for _, s := range shapes {
		members[string(s[0])+"\x00"+string(s[1])] = true
	}

	rng := rand.New(rand.NewSource(42))
	var emitted []record.Block

	for i := 0; i < totalRecords; i++ {
		partition := record.PartitionID(rng.Intn(5))
		shape := shapes[rng.Intn(len(shapes))]

		blocks, err := mgr.AddRecord(partition, shape[0], shape[1])
		if err != nil {
			t.Fatalf("call %d: AddRecord() error = %v", i+1, err)
		}
		emitted = append(emitted, blocks...)

		filled, err := mgr.FilledBytes()
		if err != nil {
			t.Fatalf("call %d: FilledBytes() error = %v", i+1, err)
		}
		if filled >= 20 {
			t.Fatalf("call %d: FilledBytes() = %d, must stay below the aggregate threshold", i+1, filled)
		}
	}

	blocks, err := mgr.Clear()
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	emitted = append(emitted, blocks...)

	// Conservation: every record comes back exactly once.
	pairs := decodeBlocks(t, emitted)
	if len(pairs) != totalRecords {
		t.Fatalf("decoded %d records, want %d", len(pairs), totalRecords)
	}
	for _, pair := range pairs {
		if !members[string(pair[0])+"\x00"+string(pair[1])] {
			t.Errorf("decoded record (%q, %q) is not in the original set", pair[0], pair[1])
		}
	}

	if got := mgr.RecordsWritten(); got != totalRecords {
		t.Errorf("RecordsWritten() = %d, want %d", got, totalRecords)
	}
}

func TestReleaseMemoryIsInert(t *testing.T) {
	mgr := newTestManager(t, Config{
		IndividualBufferSize:    100,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	})
	key, value := sevenByteRecord()
	if _, err := mgr.AddRecord(1, key, value); err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}

	if got := mgr.ReleaseMemory(1 << 30); got != 0 {
		t.Errorf("ReleaseMemory() = %d, want 0", got)
	}
	// Buffered state is untouched.
	if got := mustFilledBytes(t, mgr); got != 7 {
		t.Errorf("FilledBytes() after ReleaseMemory = %d, want 7", got)
	}
}
