package chunker

// Window is a half-open sample range of the full signal submitted to a
// transcription backend as one unit. Windows from one cursor are ordered by
// StartSample and indexed monotonically.
type Window struct {
	Index       int `json:"index"`
	StartSample int `json:"start_sample"`
	EndSample   int `json:"end_sample"`
}

func (w Window) Len() int {
	return w.EndSample - w.StartSample
}

// StartSeconds returns the window's offset on the file timeline.
func (w Window) StartSeconds(sampleRate int) float64 {
	return float64(w.StartSample) / float64(sampleRate)
}

func (w Window) Seconds(sampleRate int) float64 {
	return float64(w.Len()) / float64(sampleRate)
}

// Cursor is a pull-based, finite sequence of chunk windows. A cursor is
// consumed exactly once; construct a fresh one per generation run.
type Cursor interface {
	Next() (Window, bool)
}

// Progressive schedule: short first chunks so the first subtitles appear
// quickly, then a constant stride that amortizes backend overhead.
var progressiveSchedule = [...]float64{20, 60, 180}

const scheduleStride = 180.0

// ScheduleCursor yields fixed windows along the progressive schedule,
// clamped to the signal end (and optional time limit). The windows exactly
// cover the signal with no gaps and no overlaps.
type ScheduleCursor struct {
	length int
	rate   int
	idx    int
	pos    int
}

// NewScheduleCursor builds a cursor over a signal of length samples at the
// given rate. limitSeconds > 0 truncates the covered range.
func NewScheduleCursor(length, sampleRate int, limitSeconds float64) *ScheduleCursor {
	end := length
	if limitSeconds > 0 {
		if l := int(limitSeconds * float64(sampleRate)); l < end {
			end = l
		}
	}
	return &ScheduleCursor{length: end, rate: sampleRate}
}

func (c *ScheduleCursor) Next() (Window, bool) {
	if c.pos >= c.length {
		return Window{}, false
	}
	var endT float64
	if c.idx < len(progressiveSchedule) {
		endT = progressiveSchedule[c.idx]
	} else {
		endT = progressiveSchedule[len(progressiveSchedule)-1] + scheduleStride*float64(c.idx-len(progressiveSchedule)+1)
	}
	end := int(endT * float64(c.rate))
	if end > c.length {
		end = c.length
	}
	w := Window{Index: c.idx, StartSample: c.pos, EndSample: end}
	c.idx++
	c.pos = end
	return w, true
}

// TailWindow is the single window used in test mode: the final seconds of the
// signal, so VAD parameters can be tuned without reprocessing a whole file.
// ok is false when the inputs cannot produce a non-empty window.
func TailWindow(length, sampleRate int, seconds float64) (Window, bool) {
	if length <= 0 || sampleRate <= 0 || seconds <= 0 {
		return Window{}, false
	}
	start := length - int(seconds*float64(sampleRate))
	if start < 0 {
		start = 0
	}
	return Window{Index: 0, StartSample: start, EndSample: length}, true
}
