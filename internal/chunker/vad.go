package chunker

import "math"

// VADConfig tunes silence-based segmentation. The zero value is not usable;
// fill every field (the config package carries the defaults).
type VADConfig struct {
	BatchSeconds     float64 // analysis batch size; bounds memory, not chunk size
	SilenceThreshold float64 // RMS below which a window counts as silent
	MinSilence       float64 // seconds of contiguous silence that define a split
	MinChunk         float64 // segments shorter than this merge into the next
	Filtering        bool    // apply the band-pass pre-filter before scanning
	LimitSeconds     float64 // 0 = whole signal
}

const (
	analysisWindowSec = 0.05
	highPassHz        = 60.0
	lowPassHz         = 6000.0

	// leftoverFactor caps retained unsplit audio at this multiple of the
	// batch size; beyond it the leftover is force-flushed as its own chunk so
	// memory stays bounded through long non-silent passages.
	leftoverFactor = 3
)

// VADCursor scans the signal in fixed batches, splits at the midpoints of
// sufficiently long silence runs, and carries unsplit leftover audio across
// batch boundaries (filtered once, never re-filtered).
type VADCursor struct {
	samples []float32
	rate    int
	cfg     VADConfig

	batchSize     int
	usable        int
	pos           int       // next raw sample to ingest
	leftoverStart int       // absolute index of buf[0]
	buf           []float32 // retained (possibly filtered) samples awaiting a split
	hp, lp        rcFilter
	queue         []Window
	index         int
	done          bool
}

func NewVADCursor(samples []float32, sampleRate int, cfg VADConfig) *VADCursor {
	usable := len(samples)
	if cfg.LimitSeconds > 0 {
		if l := int(cfg.LimitSeconds * float64(sampleRate)); l < usable {
			usable = l
		}
	}
	dt := 1.0 / float64(sampleRate)
	return &VADCursor{
		samples:   samples,
		rate:      sampleRate,
		cfg:       cfg,
		batchSize: int(cfg.BatchSeconds * float64(sampleRate)),
		usable:    usable,
		hp:        newHighPass(highPassHz, dt),
		lp:        newLowPass(lowPassHz, dt),
	}
}

func (c *VADCursor) Next() (Window, bool) {
	for len(c.queue) == 0 && !c.done {
		c.fill()
	}
	if len(c.queue) == 0 {
		return Window{}, false
	}
	w := c.queue[0]
	c.queue = c.queue[1:]
	return w, true
}

func (c *VADCursor) fill() {
	if c.pos >= c.usable {
		if len(c.buf) > 0 {
			c.emit(c.leftoverStart + len(c.buf))
		}
		c.done = true
		return
	}

	batchEnd := c.pos + c.batchSize
	if batchEnd > c.usable {
		batchEnd = c.usable
	}
	incoming := c.samples[c.pos:batchEnd]
	if c.cfg.Filtering {
		filtered := make([]float32, len(incoming))
		for i, x := range incoming {
			filtered[i] = float32(c.lp.step(c.hp.step(float64(x))))
		}
		c.buf = append(c.buf, filtered...)
	} else {
		c.buf = append(c.buf, incoming...)
	}
	c.pos = batchEnd

	c.splitBuffered()

	if len(c.buf) > leftoverFactor*c.batchSize {
		c.emit(c.leftoverStart + len(c.buf))
	}
}

// splitBuffered scans the retained buffer with fixed RMS windows and emits a
// chunk at the midpoint of every qualifying silence run.
func (c *VADCursor) splitBuffered() {
	win := int(analysisWindowSec * float64(c.rate))
	if win <= 0 {
		return
	}
	minRun := int(math.Ceil(c.cfg.MinSilence / analysisWindowSec))
	if minRun < 1 {
		minRun = 1
	}
	minChunk := int(c.cfg.MinChunk * float64(c.rate))

	// Scan against a stable snapshot; emitting trims the buffer, so split
	// points are collected first and applied after.
	buf := c.buf
	base := c.leftoverStart
	nWin := len(buf) / win
	runStart := -1
	var splits []int
	for i := 0; i <= nWin; i++ {
		silent := false
		if i < nWin {
			silent = rms(buf[i*win:(i+1)*win]) < c.cfg.SilenceThreshold
		}
		if silent {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 && i-runStart >= minRun {
			splits = append(splits, base+runStart*win+(i-runStart)*win/2)
		}
		runStart = -1
	}
	for _, sp := range splits {
		if sp-c.leftoverStart >= minChunk {
			c.emit(sp)
		}
	}
}

// emit closes the current leftover region at absolute sample end and queues
// it as a window.
func (c *VADCursor) emit(end int) {
	if end <= c.leftoverStart {
		return
	}
	c.queue = append(c.queue, Window{Index: c.index, StartSample: c.leftoverStart, EndSample: end})
	c.index++
	c.buf = c.buf[end-c.leftoverStart:]
	c.leftoverStart = end
}

func rms(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(x)))
}

// rcFilter is a first-order RC filter whose state persists across batches so
// the leftover never needs re-filtering.
type rcFilter struct {
	alpha    float64
	highpass bool
	prevIn   float64
	prevOut  float64
	primed   bool
}

func newHighPass(cutoffHz, dt float64) rcFilter {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	return rcFilter{alpha: rc / (rc + dt), highpass: true}
}

func newLowPass(cutoffHz, dt float64) rcFilter {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	return rcFilter{alpha: dt / (rc + dt)}
}

func (f *rcFilter) step(x float64) float64 {
	if !f.primed {
		f.primed = true
		f.prevIn = x
		if f.highpass {
			f.prevOut = 0
		} else {
			f.prevOut = x
		}
		return f.prevOut
	}
	if f.highpass {
		f.prevOut = f.alpha * (f.prevOut + x - f.prevIn)
	} else {
		f.prevOut += f.alpha * (x - f.prevOut)
	}
	f.prevIn = x
	return f.prevOut
}
