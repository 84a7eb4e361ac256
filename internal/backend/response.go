package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sublabs/subgen-core/internal/segment"
)

// clockValue decodes timestamps that servers emit either as numbers or as
// clock strings ("01:02:03.250", "1:30,5").
type clockValue float64

func (c *clockValue) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		f, err := num.Float64()
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", num, err)
		}
		*c = clockValue(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp is neither number nor string: %s", data)
	}
	v, err := segment.ParseClock(s)
	if err != nil {
		return err
	}
	*c = clockValue(v)
	return nil
}

type rawCue struct {
	Start clockValue `json:"start"`
	End   clockValue `json:"end"`
	Text  string     `json:"text"`
}

type transcriptionResponse struct {
	// Pointer so an explicit empty segments array still counts as a match.
	Segments *[]rawCue `json:"segments"`
	Text     string    `json:"text"`
}

// decodeSegments normalizes the three response shapes transcription servers
// are known to produce: an object with a segments array, a bare array, or a
// single text field. The text fallback spans the whole chunk; wholeChunk
// reports it so callers skip time-unit inference for that shape.
func decodeSegments(data []byte, chunkDuration float64) (cues []segment.Raw, wholeChunk bool, err error) {
	var obj transcriptionResponse
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Segments != nil {
			return toRaw(*obj.Segments), false, nil
		}
		if text := strings.TrimSpace(obj.Text); text != "" {
			return []segment.Raw{{Start: 0, End: chunkDuration, Text: text}}, true, nil
		}
	}

	var arr []rawCue
	if err := json.Unmarshal(data, &arr); err == nil {
		return toRaw(arr), false, nil
	}

	return nil, false, fmt.Errorf("unrecognized transcription response shape: %.120s", data)
}

func toRaw(cues []rawCue) []segment.Raw {
	out := make([]segment.Raw, 0, len(cues))
	for _, c := range cues {
		out = append(out, segment.Raw{Start: float64(c.Start), End: float64(c.End), Text: c.Text})
	}
	return out
}
