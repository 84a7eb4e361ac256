package backend

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/sublabs/subgen-core/internal/segment"
)

// ErrNoAPIKey is returned when a backend that requires credentials is
// selected without a configured key.
var ErrNoAPIKey = errors.New("no API key configured")

// Chunk is one window of audio handed to an adapter. Start and Duration are
// on the file timeline in seconds; WAV holds the encoded payload.
type Chunk struct {
	Index    int
	Start    float64
	Duration float64
	WAV      []byte
}

// Adapter turns one chunk into raw segments with times in seconds relative
// to the chunk start. A failed chunk yields an empty batch and a non-nil
// error; callers log it and continue, the job does not abort.
type Adapter interface {
	Transcribe(ctx context.Context, chunk Chunk) ([]segment.Raw, error)
	// Concurrency is the number of chunks the orchestrator may keep in
	// flight against this adapter at once.
	Concurrency() int
	Name() string
}

// normalizeText lowercases and strips punctuation for denylist matching.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
