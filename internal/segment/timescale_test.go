package segment

import (
	"math"
	"testing"
)

func TestDetectScaleSecondsIdempotent(t *testing.T) {
	batch := []Raw{
		{Start: 0, End: 3, Text: "a"},
		{Start: 3, End: 6, Text: "b"},
		{Start: 6, End: 9, Text: "c"},
	}
	if got := DetectScale(batch, 10); got != 1.0 {
		t.Fatalf("expected scale 1.0 for seconds input, got %v", got)
	}
}

func TestDetectScaleCentiseconds(t *testing.T) {
	batch := []Raw{{Start: 250, End: 500, Text: "a"}}
	if got := DetectScale(batch, 3.5); got != 0.01 {
		t.Fatalf("expected scale 0.01, got %v", got)
	}
}

func TestDetectScaleMilliseconds(t *testing.T) {
	// 180s chunk with ms timestamps: avg duration 2500ms, max end 170000ms.
	batch := []Raw{
		{Start: 1000, End: 3500, Text: "a"},
		{Start: 167500, End: 170000, Text: "b"},
	}
	if got := DetectScale(batch, 180); got != 0.001 {
		t.Fatalf("expected scale 0.001, got %v", got)
	}
}

func TestDetectScaleEmptyBatch(t *testing.T) {
	if got := DetectScale(nil, 20); got != 1.0 {
		t.Fatalf("expected default scale 1.0, got %v", got)
	}
	// Degenerate pairs are discarded before inference.
	batch := []Raw{{Start: 5, End: 5, Text: "a"}, {Start: 9, End: 2, Text: "b"}}
	if got := DetectScale(batch, 20); got != 1.0 {
		t.Fatalf("expected default scale 1.0 after discarding, got %v", got)
	}
}

func TestDetectScaleFallbackNearestEnd(t *testing.T) {
	// Average duration implausible under every candidate (0.05s cues in
	// seconds), so the fallback picks the scale landing max end nearest the
	// chunk duration.
	batch := []Raw{
		{Start: 0, End: 0.05, Text: "a"},
		{Start: 9.95, End: 10, Text: "b"},
	}
	if got := DetectScale(batch, 10); got != 1.0 {
		t.Fatalf("expected fallback scale 1.0, got %v", got)
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12.5", 12.5},
		{"250", 250},
		{"1:30", 90},
		{"01:02:03.250", 3723.25},
		{"00:01:05,500", 65.5},
		{"2:15,4", 135.4},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tc.in, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ParseClock(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "a:b", "1:2:3:4", "12..5x"} {
		if _, err := ParseClock(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
