package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/segment"
)

// HTTPServer posts each chunk to an OpenAI-compatible transcription endpoint
// as a multipart upload. Failures are per-chunk: a non-2xx status, timeout,
// or malformed body yields an empty batch and the job moves on.
type HTTPServer struct {
	cfg    config.RemoteBackendConfig
	client *http.Client
	log    *slog.Logger
}

func NewHTTPServer(cfg config.RemoteBackendConfig, log *slog.Logger) (*HTTPServer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote backend endpoint not configured")
	}
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPServer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

func (s *HTTPServer) Name() string     { return "remote" }
func (s *HTTPServer) Concurrency() int { return 1 }

func (s *HTTPServer) Transcribe(ctx context.Context, chunk Chunk) ([]segment.Raw, error) {
	body, contentType, err := multipartChunk(chunk.WAV, s.cfg.Model)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post chunk %d: %w", chunk.Index, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcription server status %d: %.200s", resp.StatusCode, payload)
	}

	cues, wholeChunk, err := decodeSegments(payload, chunk.Duration)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	if wholeChunk {
		return cues, nil
	}
	return rescale(cues, s.cfg.TimeScale, chunk.Duration), nil
}

// rescale converts cue times into seconds using the configured override or,
// when it is zero, per-chunk inference.
func rescale(cues []segment.Raw, override, chunkDuration float64) []segment.Raw {
	scale := override
	if scale <= 0 {
		scale = segment.DetectScale(cues, chunkDuration)
	}
	if scale == 1.0 {
		return cues
	}
	out := make([]segment.Raw, len(cues))
	for i, c := range cues {
		out[i] = segment.Raw{Start: c.Start * scale, End: c.End * scale, Text: c.Text}
	}
	return out
}

func multipartChunk(wavPayload []byte, model string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", fmt.Errorf("write response_format field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wavPayload); err != nil {
		return nil, "", fmt.Errorf("write chunk payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
