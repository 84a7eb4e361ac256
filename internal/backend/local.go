package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/segment"
)

// denylist holds filler and boilerplate phrases whisper models hallucinate on
// silence, matched against normalized segment text.
var denylist = map[string]struct{}{
	"you":                    {},
	"thank you":              {},
	"thanks":                 {},
	"thank you for watching": {},
	"thanks for watching":    {},
	"subtitles by the amaraorg community": {},
	"music":    {},
	"applause": {},
	"bye":      {},
}

// Local runs an exec'd transcription CLI on a dedicated worker goroutine so
// inference never blocks the orchestrator. Chunks are processed strictly one
// at a time; sub-segments stream through OnPartial as the CLI prints them.
type Local struct {
	cmd []string
	cfg config.LocalBackendConfig
	log *slog.Logger

	// OnPartial, when set, receives each accepted cue as soon as the CLI
	// emits it, before the chunk's final batch is returned.
	OnPartial func(segment.Raw)

	reqs chan localRequest
	done chan struct{}
}

type localRequest struct {
	ctx    context.Context
	chunk  Chunk
	result chan localResult
}

type localResult struct {
	cues []segment.Raw
	err  error
}

func NewLocal(cfg config.LocalBackendConfig, log *slog.Logger) (*Local, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	l := &Local{
		cmd:  args,
		cfg:  cfg,
		log:  log,
		reqs: make(chan localRequest),
		done: make(chan struct{}),
	}
	go l.worker()
	return l, nil
}

func (l *Local) Name() string     { return "local" }
func (l *Local) Concurrency() int { return 1 }

// Close stops the worker goroutine. Transcribe must not be called after.
func (l *Local) Close() {
	close(l.done)
}

func (l *Local) Transcribe(ctx context.Context, chunk Chunk) ([]segment.Raw, error) {
	req := localRequest{ctx: ctx, chunk: chunk, result: make(chan localResult, 1)}
	select {
	case l.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, fmt.Errorf("local backend closed")
	}
	select {
	case res := <-req.result:
		return res.cues, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Local) worker() {
	for {
		select {
		case req := <-l.reqs:
			cues, err := l.run(req.ctx, req.chunk)
			req.result <- localResult{cues: cues, err: err}
		case <-l.done:
			return
		}
	}
}

// run invokes the CLI on one chunk. The CLI receives a WAV path and prints
// one JSON cue per stdout line ({"start","end","text"}, timestamps numeric
// or clock strings).
func (l *Local) run(ctx context.Context, chunk Chunk) ([]segment.Raw, error) {
	file, err := os.CreateTemp("", "subgen_chunk_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()
	if _, err := file.Write(chunk.WAV); err != nil {
		return nil, fmt.Errorf("write chunk wav: %w", err)
	}

	args := append([]string{}, l.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if l.cfg.ModelPath != "" {
		args = append(args, "--model", l.cfg.ModelPath)
	}
	if l.cfg.Language != "" {
		args = append(args, "--language", l.cfg.Language)
	}

	command := exec.CommandContext(ctx, l.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcriber stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("start transcriber: %w", err)
	}

	var cues []segment.Raw
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cue rawCue
		if err := json.Unmarshal(line, &cue); err != nil {
			l.log.Warn("skipping malformed transcriber line", slog.String("error", err.Error()))
			continue
		}
		raw := segment.Raw{Start: float64(cue.Start), End: float64(cue.End), Text: cue.Text}
		if !l.accept(raw) {
			continue
		}
		if l.OnPartial != nil {
			l.OnPartial(raw)
		}
		cues = append(cues, raw)
	}
	scanErr := scanner.Err()

	if err := command.Wait(); err != nil {
		return nil, fmt.Errorf("transcriber failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read transcriber output: %w", scanErr)
	}
	return cues, nil
}

// accept applies the denylist and the minimum-duration gate.
func (l *Local) accept(cue segment.Raw) bool {
	if cue.End-cue.Start < l.cfg.MinSegmentS {
		return false
	}
	if _, banned := denylist[normalizeText(cue.Text)]; banned {
		return false
	}
	return true
}
