package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/sublabs/subgen-core/internal/backend"
	"github.com/sublabs/subgen-core/internal/chunker"
	"github.com/sublabs/subgen-core/internal/media"
	"github.com/sublabs/subgen-core/internal/protocol"
	"github.com/sublabs/subgen-core/internal/segment"
)

const (
	stateIdle        = "idle"
	statePreparing   = "preparing"
	stateChunking    = "chunking"
	stateDispatching = "dispatching"
	stateDone        = "done"
	stateCancelled   = "cancelled"
	stateFailed      = "failed"
)

type job struct {
	id      uint64
	source  string
	adapter backend.Adapter
	svc     *Service
	ctx     context.Context
	cancel  context.CancelFunc
	test    bool

	mu         sync.Mutex
	state      string
	chunksDone int
	acc        *segment.Accumulator
	dispatched []chunker.Window
}

func (j *job) run() (Result, error) {
	started := time.Now()
	j.publishStatus(statePreparing, "")

	samples, err := j.svc.decoder.Decode(j.ctx, j.source)
	if err != nil {
		if !j.svc.live(j.id) {
			return j.partialResult(), ErrCancelled
		}
		j.publishStatus(stateFailed, err.Error())
		return Result{}, fmt.Errorf("decode %s: %w", j.source, err)
	}
	rate := j.svc.decoder.SampleRate()

	j.setState(stateChunking)
	j.publishStatus(stateChunking, "")
	cursor := j.buildCursor(samples, rate)

	j.setState(stateDispatching)
	j.dispatch(cursor, samples, rate)

	if !j.svc.live(j.id) {
		j.setState(stateCancelled)
		return j.partialResult(), ErrCancelled
	}

	j.setState(stateDone)
	result := j.partialResult()
	result.Backend = j.adapter.Name()

	if j.test {
		j.writeChunkPlan()
	}

	if j.svc.store != nil {
		language := ""
		if j.adapter.Name() == "local" {
			language = j.svc.cfg.Backends.Local.Language
		}
		id, err := j.svc.store.SaveTrack(j.ctx, j.source, j.adapter.Name(), language, result.Segments)
		if err != nil {
			j.svc.log.Warn("persist track failed",
				slog.Uint64("job_id", j.id),
				slog.String("error", err.Error()))
		} else {
			result.TrackID = id
		}
	}

	elapsed := time.Since(started).Seconds()
	j.svc.metrics.jobDone(j.ctx, elapsed)
	j.publishComplete(result, elapsed)
	j.svc.log.Info("job complete",
		slog.Uint64("job_id", j.id),
		slog.String("source", j.source),
		slog.String("backend", j.adapter.Name()),
		slog.Int("segments", len(result.Segments)),
		slog.Float64("elapsed_s", elapsed))
	return result, nil
}

// buildCursor picks the chunking strategy. Test mode collapses the plan to a
// single window over the final batch of audio so silence-detection tuning
// does not require a full reprocess.
func (j *job) buildCursor(samples []float32, rate int) chunker.Cursor {
	cfg := j.svc.cfg.Chunking
	limit := j.svc.cfg.Media.MaxSeconds

	if j.test {
		if w, ok := chunker.TailWindow(len(samples), rate, cfg.BatchSeconds); ok {
			return &sliceCursor{windows: []chunker.Window{w}}
		}
		return &sliceCursor{}
	}
	if cfg.Strategy == "vad" {
		return chunker.NewVADCursor(samples, rate, chunker.VADConfig{
			BatchSeconds:     cfg.BatchSeconds,
			SilenceThreshold: cfg.SilenceThreshold,
			MinSilence:       cfg.MinSilenceS,
			MinChunk:         cfg.MinChunkS,
			Filtering:        cfg.FilteringEnabled,
			LimitSeconds:     limit,
		})
	}
	return chunker.NewScheduleCursor(len(samples), rate, limit)
}

// dispatch drains the cursor through a worker pool sized by the adapter's
// concurrency. Windows are handed out in order; completions may land out of
// order and the accumulator re-sorts on every fold.
func (j *job) dispatch(cursor chunker.Cursor, samples []float32, rate int) {
	workers := j.adapter.Concurrency()
	if workers < 1 {
		workers = 1
	}

	var cursorMu sync.Mutex
	next := func() (chunker.Window, bool) {
		cursorMu.Lock()
		defer cursorMu.Unlock()
		w, ok := cursor.Next()
		if ok {
			j.mu.Lock()
			j.dispatched = append(j.dispatched, w)
			j.mu.Unlock()
		}
		return w, ok
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.work(next, samples, rate)
		}()
	}
	wg.Wait()
}

func (j *job) work(next func() (chunker.Window, bool), samples []float32, rate int) {
	for {
		if j.ctx.Err() != nil || !j.svc.live(j.id) {
			return
		}
		w, ok := next()
		if !ok {
			return
		}

		chunkStart := w.StartSeconds(rate)
		wav, err := media.EncodeWAV(samples[w.StartSample:w.EndSample], rate)
		if err != nil {
			j.svc.log.Warn("encode chunk failed",
				slog.Uint64("job_id", j.id),
				slog.Int("chunk", w.Index),
				slog.String("error", err.Error()))
			j.svc.metrics.chunkFailed(j.ctx)
			continue
		}

		cues, err := j.adapter.Transcribe(j.ctx, backend.Chunk{
			Index:    w.Index,
			Start:    chunkStart,
			Duration: w.Seconds(rate),
			WAV:      wav,
		})
		if err != nil {
			if j.svc.live(j.id) {
				j.svc.log.Warn("chunk transcription failed",
					slog.Uint64("job_id", j.id),
					slog.Int("chunk", w.Index),
					slog.String("backend", j.adapter.Name()),
					slog.String("error", err.Error()))
				j.svc.metrics.chunkFailed(j.ctx)
			}
			continue
		}

		// Adapter times are relative to the chunk; rebase onto the file
		// timeline before merging.
		for i := range cues {
			cues[i].Start += chunkStart
			cues[i].End += chunkStart
		}

		if !j.svc.live(j.id) {
			return
		}
		j.mu.Lock()
		accepted := j.acc.Fold(cues)
		j.chunksDone++
		snapshot := j.acc.Snapshot()
		j.mu.Unlock()

		j.svc.metrics.chunkDone(j.ctx, accepted)
		j.publishProgress(w.Index, snapshot)
	}
}

func (j *job) setState(state string) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		JobID:    j.id,
		Source:   j.source,
		State:    j.state,
		Chunks:   j.chunksDone,
		Segments: j.acc.Len(),
	}
}

func (j *job) partialResult() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Result{JobID: j.id, Segments: j.acc.Snapshot()}
}

// publishProgress pushes the full sorted list to the local callback and the
// bus. Bus delivery is best-effort.
func (j *job) publishProgress(chunk int, segs []segment.Segment) {
	if !j.svc.live(j.id) {
		return
	}
	if j.svc.OnProgress != nil {
		j.svc.OnProgress(segs)
	}
	if j.svc.bus == nil {
		return
	}
	msg := protocol.Progress{JobID: j.id, Source: j.source, Chunk: chunk, Segments: segs}
	if err := j.svc.bus.PublishJSON(protocol.SubjectProgress, msg); err != nil {
		j.svc.log.Warn("publish progress failed", slog.String("error", err.Error()))
	}
}

func (j *job) publishStatus(state, detail string) {
	if !j.svc.live(j.id) || j.svc.bus == nil {
		return
	}
	msg := protocol.Status{
		JobID:     j.id,
		Source:    j.source,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := j.svc.bus.PublishJSON(protocol.SubjectStatus, msg); err != nil {
		j.svc.log.Warn("publish status failed", slog.String("error", err.Error()))
	}
}

func (j *job) publishComplete(result Result, elapsed float64) {
	if !j.svc.live(j.id) || j.svc.bus == nil {
		return
	}
	msg := protocol.Complete{
		JobID:    j.id,
		TrackID:  result.TrackID,
		Source:   j.source,
		Backend:  result.Backend,
		Segments: result.Segments,
		Elapsed:  elapsed,
	}
	if err := j.svc.bus.PublishJSON(protocol.SubjectComplete, msg); err != nil {
		j.svc.log.Warn("publish complete failed", slog.String("error", err.Error()))
	}
}

// writeChunkPlan archives the dispatched windows next to the store database
// for offline inspection of chunk boundaries.
func (j *job) writeChunkPlan() {
	j.mu.Lock()
	windows := append([]chunker.Window(nil), j.dispatched...)
	j.mu.Unlock()

	dir := filepath.Dir(j.svc.cfg.Store.Path)
	path := filepath.Join(dir, fmt.Sprintf("chunk-plan-%d.json.gz", j.id))
	if err := writeChunkPlan(path, j.source, windows); err != nil {
		j.svc.log.Warn("write chunk plan failed",
			slog.Uint64("job_id", j.id),
			slog.String("error", err.Error()))
		return
	}
	j.svc.log.Info("chunk plan written", slog.String("path", path))
}

type sliceCursor struct {
	windows []chunker.Window
	pos     int
}

func (c *sliceCursor) Next() (chunker.Window, bool) {
	if c.pos >= len(c.windows) {
		return chunker.Window{}, false
	}
	w := c.windows[c.pos]
	c.pos++
	return w, true
}
