package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/segment"
)

// cloudInstruction pins the model to literal transcription; structured output
// is enforced separately through the response schema.
const cloudInstruction = "Transcribe the audio verbatim. Return every spoken phrase as a segment " +
	"with start and end times in seconds relative to the start of the audio. " +
	"Do not paraphrase, summarize, translate, or add words that are not spoken. " +
	"Return an empty array if nothing is spoken."

// Cloud submits base64 WAV chunks to a multimodal chat-completions endpoint
// with a structured-output schema. Transient failures retry with doubling
// delay before the chunk is given up on.
type Cloud struct {
	cfg    config.CloudBackendConfig
	client *http.Client
	log    *slog.Logger

	// retryInterval is the first backoff delay; tests shrink it.
	retryInterval time.Duration
}

func NewCloud(cfg config.CloudBackendConfig, log *slog.Logger) (*Cloud, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cloud backend endpoint not configured")
	}
	return &Cloud{cfg: cfg, client: &http.Client{}, log: log, retryInterval: time.Second}, nil
}

func (c *Cloud) Name() string { return "cloud" }

func (c *Cloud) Concurrency() int {
	if c.cfg.Concurrency > 0 {
		return c.cfg.Concurrency
	}
	return 2
}

func (c *Cloud) Transcribe(ctx context.Context, chunk Chunk) ([]segment.Raw, error) {
	payload, err := c.requestBody(chunk)
	if err != nil {
		return nil, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	expo.Multiplier = 2

	attempts := uint(c.cfg.MaxAttempts)
	if attempts == 0 {
		attempts = 3
	}

	operation := func() ([]segment.Raw, error) {
		cues, err := c.submit(ctx, chunk, payload)
		if err != nil {
			c.log.Warn("cloud chunk attempt failed",
				slog.Int("chunk", chunk.Index),
				slog.String("error", err.Error()))
		}
		return cues, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(attempts))
}

func (c *Cloud) submit(ctx context.Context, chunk Chunk, payload []byte) ([]segment.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build cloud request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post chunk %d: %w", chunk.Index, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read cloud response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("cloud status %d: %.200s", resp.StatusCode, body)
		// Client errors other than rate limiting will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("decode cloud response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("cloud response has no choices")
	}

	cues, _, err := decodeSegments([]byte(completion.Choices[0].Message.Content), chunk.Duration)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	return cues, nil
}

func (c *Cloud) requestBody(chunk Chunk) ([]byte, error) {
	type contentPart struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		InputAudio *struct {
			Data   string `json:"data"`
			Format string `json:"format"`
		} `json:"input_audio,omitempty"`
	}

	audio := &struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	}{
		Data:   base64.StdEncoding.EncodeToString(chunk.WAV),
		Format: "wav",
	}

	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []contentPart{
					{Type: "text", Text: cloudInstruction},
					{Type: "input_audio", InputAudio: audio},
				},
			},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "subtitle_segments",
				"strict": true,
				"schema": segmentSchema,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal cloud request: %w", err)
	}
	return payload, nil
}

var segmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"segments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": map[string]any{"type": "number"},
					"end":   map[string]any{"type": "number"},
					"text":  map[string]any{"type": "string"},
				},
				"required":             []string{"start", "end", "text"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"segments"},
	"additionalProperties": false,
}
