package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/sublabs/subgen-core/internal/chunker"
)

type chunkPlan struct {
	Source  string           `json:"source"`
	Windows []chunker.Window `json:"windows"`
}

// writeChunkPlan stores the window boundaries of one run as gzipped JSON.
func writeChunkPlan(path, source string, windows []chunker.Window) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk plan: %w", err)
	}
	defer file.Close()

	zw := gzip.NewWriter(file)
	if err := json.NewEncoder(zw).Encode(chunkPlan{Source: source, Windows: windows}); err != nil {
		zw.Close()
		return fmt.Errorf("encode chunk plan: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close chunk plan: %w", err)
	}
	return file.Close()
}
