package buffer_test

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jittakal/kafspill/internal/buffer"
	"github.com/jittakal/kafspill/internal/codec"
)

func Example_spillEngine() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := buffer.NewManager(buffer.Config{
		IndividualBufferSize:    20,
		IndividualBufferMax:     1024,
		AggregateSpillThreshold: 1 << 20,
	}, codec.NewBinaryCodec(), logger, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	// Each record encodes to 7 bytes; the third crosses the 20-byte
	// individual threshold and spills the whole buffer.
	for i := 0; i < 3; i++ {
		blocks, err := mgr.AddRecord(1, []byte("k1"), []byte("v01"))
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		filled, err := mgr.FilledBytes()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("call %d: blocks=%d filled=%d\n", i+1, len(blocks), filled)
	}

	fmt.Printf("records=%d spills=%d\n", mgr.RecordsWritten(), mgr.Spills())

	// Output:
	// call 1: blocks=0 filled=7
	// call 2: blocks=0 filled=14
	// call 3: blocks=1 filled=0
	// records=3 spills=1
}
