package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ErrDecode marks failures of the decode step itself (unsupported container,
// corrupt stream) as opposed to setup errors like a missing binary.
var ErrDecode = errors.New("media decode failed")

// Decoder turns a media source into mono float32 samples at the decoder's
// configured sample rate.
type Decoder interface {
	Decode(ctx context.Context, source string) ([]float32, error)
	SampleRate() int
}

// FFmpegDecoder shells out to ffmpeg and reads raw f32le samples from its
// stdout. Any container ffmpeg understands works as a source, including URLs.
type FFmpegDecoder struct {
	path string
	rate int
}

func NewFFmpegDecoder(path string, sampleRate int) (*FFmpegDecoder, error) {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &FFmpegDecoder{path: resolved, rate: sampleRate}, nil
}

func (d *FFmpegDecoder) SampleRate() int { return d.rate }

func (d *FFmpegDecoder) Decode(ctx context.Context, source string) ([]float32, error) {
	args := []string{
		"-nostdin", "-v", "error",
		"-i", source,
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.rate),
		"-",
	}
	command := exec.CommandContext(ctx, d.path, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrDecode, detail)
	}

	raw := stdout.Bytes()
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: no audio stream in %s", ErrDecode, source)
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
