package media

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	payload, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(payload))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		want := int(s * 32767)
		if got := buf.Data[i]; got != want {
			t.Fatalf("sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestEncodeWAVClampsOverdrive(t *testing.T) {
	payload, err := EncodeWAV([]float32{2.0, -2.0}, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(payload))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Data[0] != 32767 || buf.Data[1] != -32768 {
		t.Fatalf("expected clamped extremes, got %v", buf.Data)
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	if _, err := EncodeWAV(nil, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestNewFFmpegDecoderMissingBinary(t *testing.T) {
	if _, err := NewFFmpegDecoder("definitely-not-ffmpeg-binary", 16000); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestFFmpegDecoderReportsDecodeError(t *testing.T) {
	// "true" exits zero but writes no samples, "false" exits non-zero; both
	// must surface ErrDecode rather than silently returning empty audio.
	for _, bin := range []string{"true", "false"} {
		dec, err := NewFFmpegDecoder(bin, 16000)
		if err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
		_, err = dec.Decode(context.Background(), "input.opus")
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: expected ErrDecode, got %v", bin, err)
		}
	}
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	if _, err := b.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := b.Seek(1, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if _, err := b.Write([]byte("XY")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if string(b.data) != "aXYdef" {
		t.Fatalf("unexpected buffer %q", b.data)
	}
}
