package export

import (
	"fmt"
	"io"

	"github.com/sublabs/subgen-core/internal/segment"
)

// WriteSRT renders segments as SubRip with 1-based cue counters.
func WriteSRT(w io.Writer, segs []segment.Segment) error {
	for i, s := range segs {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, formatClock(s.Start, ','), formatClock(s.End, ','), s.Text)
		if err != nil {
			return fmt.Errorf("write srt cue %d: %w", i+1, err)
		}
	}
	return nil
}

// WriteVTT renders segments as WebVTT.
func WriteVTT(w io.Writer, segs []segment.Segment) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return fmt.Errorf("write vtt header: %w", err)
	}
	for i, s := range segs {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			formatClock(s.Start, '.'), formatClock(s.End, '.'), s.Text)
		if err != nil {
			return fmt.Errorf("write vtt cue %d: %w", i+1, err)
		}
	}
	return nil
}

// formatClock renders seconds as HH:MM:SS followed by the separator and
// milliseconds, the only part SRT and WebVTT disagree on.
func formatClock(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
