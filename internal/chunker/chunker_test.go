package chunker

import (
	"math"
	"testing"
)

const testRate = 16000

func collect(c Cursor) []Window {
	var out []Window
	for {
		w, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

func assertCoverage(t *testing.T, windows []Window, length int) {
	t.Helper()
	if length == 0 {
		if len(windows) != 0 {
			t.Fatalf("expected no windows for empty signal, got %d", len(windows))
		}
		return
	}
	if len(windows) == 0 {
		t.Fatal("expected windows")
	}
	pos := 0
	for i, w := range windows {
		if w.Index != i {
			t.Fatalf("window %d has index %d", i, w.Index)
		}
		if w.StartSample != pos {
			t.Fatalf("gap or overlap at window %d: start %d, want %d", i, w.StartSample, pos)
		}
		if w.EndSample <= w.StartSample {
			t.Fatalf("degenerate window %d: %+v", i, w)
		}
		pos = w.EndSample
	}
	if pos != length {
		t.Fatalf("coverage ends at %d, want %d", pos, length)
	}
}

func TestScheduleCursorProgressiveBoundaries(t *testing.T) {
	length := 200 * testRate
	windows := collect(NewScheduleCursor(length, testRate, 0))
	assertCoverage(t, windows, length)

	wantEnds := []int{20 * testRate, 60 * testRate, 180 * testRate, 200 * testRate}
	if len(windows) != len(wantEnds) {
		t.Fatalf("expected %d windows, got %d", len(wantEnds), len(windows))
	}
	for i, w := range windows {
		if w.EndSample != wantEnds[i] {
			t.Fatalf("window %d ends at %d, want %d", i, w.EndSample, wantEnds[i])
		}
	}
}

func TestScheduleCursorLongSignalStride(t *testing.T) {
	length := 1000 * testRate
	windows := collect(NewScheduleCursor(length, testRate, 0))
	assertCoverage(t, windows, length)
	// Steady state: every window past the schedule spans the constant stride.
	for _, w := range windows[3 : len(windows)-1] {
		if w.Len() != 180*testRate {
			t.Fatalf("steady-state window %d spans %d samples", w.Index, w.Len())
		}
	}
}

func TestScheduleCursorShortSignal(t *testing.T) {
	length := 5 * testRate
	windows := collect(NewScheduleCursor(length, testRate, 0))
	assertCoverage(t, windows, length)
	if len(windows) != 1 {
		t.Fatalf("expected exactly one window, got %d", len(windows))
	}
}

func TestScheduleCursorEmptySignal(t *testing.T) {
	assertCoverage(t, collect(NewScheduleCursor(0, testRate, 0)), 0)
}

func TestScheduleCursorTimeLimit(t *testing.T) {
	length := 500 * testRate
	windows := collect(NewScheduleCursor(length, testRate, 90))
	assertCoverage(t, windows, 90*testRate)
}

func TestScheduleCursorRestartable(t *testing.T) {
	length := 100 * testRate
	first := collect(NewScheduleCursor(length, testRate, 0))
	second := collect(NewScheduleCursor(length, testRate, 0))
	if len(first) != len(second) {
		t.Fatalf("fresh cursors disagree: %d vs %d windows", len(first), len(second))
	}
}

func vadConfig() VADConfig {
	return VADConfig{
		BatchSeconds:     2,
		SilenceThreshold: 0.01,
		MinSilence:       0.3,
		MinChunk:         0.2,
		Filtering:        false,
	}
}

// tone fills the range with an audible sine, silence leaves it at zero.
func tone(buf []float32, from, to int) {
	for i := from; i < to && i < len(buf); i++ {
		buf[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
}

func TestVADSplitsOnSilence(t *testing.T) {
	length := 3 * testRate
	signal := make([]float32, length)
	tone(signal, 0, testRate)
	// 1.0s..1.5s silent, then speech again.
	tone(signal, testRate+testRate/2, length)

	windows := collect(NewVADCursor(signal, testRate, vadConfig()))
	assertCoverage(t, windows, length)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows around the silence run, got %+v", windows)
	}
	// Split lands at the midpoint of the silence run.
	split := windows[0].EndSample
	if split <= testRate || split >= testRate+testRate/2 {
		t.Fatalf("split at %d outside silence run", split)
	}
}

func TestVADNoSilenceForceFlush(t *testing.T) {
	cfg := vadConfig()
	length := 20 * testRate
	signal := make([]float32, length)
	tone(signal, 0, length)

	cur := NewVADCursor(signal, testRate, cfg)
	batch := int(cfg.BatchSeconds * testRate)
	var windows []Window
	for {
		w, ok := cur.Next()
		if !ok {
			break
		}
		if len(cur.buf) > leftoverFactor*batch {
			t.Fatalf("retained leftover %d exceeds bound %d", len(cur.buf), leftoverFactor*batch)
		}
		windows = append(windows, w)
	}
	assertCoverage(t, windows, length)
	if len(windows) < 2 {
		t.Fatalf("expected forced flushes through non-silent audio, got %d windows", len(windows))
	}
}

func TestVADShortSegmentMergedForward(t *testing.T) {
	cfg := vadConfig()
	length := 3 * testRate
	signal := make([]float32, length)
	// Leading 0.3s silence run: its midpoint (0.15s) would produce a chunk
	// below MinChunk, so that split is skipped and the region merges into
	// the chunk ended by the second silence run at 1.3s..1.8s.
	tone(signal, 3*testRate/10, 13*testRate/10)
	tone(signal, 18*testRate/10, length)

	windows := collect(NewVADCursor(signal, testRate, cfg))
	assertCoverage(t, windows, length)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %+v", windows)
	}
	if windows[0].Len() < int(cfg.MinChunk*testRate) {
		t.Fatalf("first window shorter than min chunk: %+v", windows[0])
	}
	if split := windows[0].EndSample; split <= 13*testRate/10 || split >= 18*testRate/10 {
		t.Fatalf("split at %d outside second silence run", split)
	}
}

func TestVADEmptySignal(t *testing.T) {
	windows := collect(NewVADCursor(nil, testRate, vadConfig()))
	if len(windows) != 0 {
		t.Fatalf("expected no windows, got %+v", windows)
	}
}

func TestVADFilteringEnabledStillCovers(t *testing.T) {
	cfg := vadConfig()
	cfg.Filtering = true
	length := 5 * testRate
	signal := make([]float32, length)
	tone(signal, 0, 2*testRate)
	tone(signal, 3*testRate, length)

	windows := collect(NewVADCursor(signal, testRate, cfg))
	assertCoverage(t, windows, length)
}

func TestVADTimeLimit(t *testing.T) {
	cfg := vadConfig()
	cfg.LimitSeconds = 2
	length := 10 * testRate
	signal := make([]float32, length)
	tone(signal, 0, length)
	windows := collect(NewVADCursor(signal, testRate, cfg))
	assertCoverage(t, windows, 2*testRate)
}

func TestTailWindow(t *testing.T) {
	w, ok := TailWindow(100*testRate, testRate, 30)
	if !ok || w.StartSample != 70*testRate || w.EndSample != 100*testRate {
		t.Fatalf("unexpected tail window %+v (ok=%v)", w, ok)
	}
	w, ok = TailWindow(10*testRate, testRate, 30)
	if !ok || w.StartSample != 0 || w.EndSample != 10*testRate {
		t.Fatalf("tail window should clamp to signal start, got %+v (ok=%v)", w, ok)
	}
}

func TestTailWindowRejectsEmptySignal(t *testing.T) {
	if w, ok := TailWindow(0, testRate, 30); ok {
		t.Fatalf("expected no window for empty signal, got %+v", w)
	}
	if w, ok := TailWindow(10*testRate, testRate, 0); ok {
		t.Fatalf("expected no window for zero tail length, got %+v", w)
	}
}
