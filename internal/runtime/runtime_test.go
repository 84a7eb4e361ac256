package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sublabs/subgen-core/internal/backend"
	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/orchestrator"
	"github.com/sublabs/subgen-core/internal/segment"
	"github.com/sublabs/subgen-core/internal/store"
)

type stubDecoder struct {
	samples []float32
	rate    int
}

func (d *stubDecoder) Decode(ctx context.Context, source string) ([]float32, error) {
	return d.samples, nil
}

func (d *stubDecoder) SampleRate() int { return d.rate }

type stubAdapter struct{}

func (stubAdapter) Transcribe(ctx context.Context, chunk backend.Chunk) ([]segment.Raw, error) {
	return []segment.Raw{{Start: 0, End: 2, Text: "stub text"}}, nil
}

func (stubAdapter) Concurrency() int { return 1 }
func (stubAdapter) Name() string     { return "stub" }

func newTestRuntime(t *testing.T) (*Runtime, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	cfg.Backends.Default = "stub"
	cfg.Chunking.Strategy = "schedule"
	cfg.Store.Path = filepath.Join(t.TempDir(), "tracks.db")

	tracks, err := store.Open(context.Background(), cfg.Store, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { tracks.Close() })

	dec := &stubDecoder{samples: make([]float32, 10*100), rate: 100}
	service, err := orchestrator.NewService(cfg, dec, map[string]backend.Adapter{"stub": stubAdapter{}}, tracks, nil, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	r := &Runtime{cfg: cfg, logger: logger, tracks: tracks, service: service}
	r.ready.Store(true)

	srv := httptest.NewServer(r.routes(nil))
	t.Cleanup(srv.Close)
	return r, srv
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func waitIdle(t *testing.T, srv *httptest.Server) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/job")
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		var status struct {
			State string `json:"state"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.State == "idle" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
}

func TestGenerateEndpointRunsJobAndStoresTrack(t *testing.T) {
	_, srv := newTestRuntime(t)

	resp := postJSON(t, srv.URL+"/api/generate", map[string]any{"source": "talk.mp4"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	waitIdle(t, srv)

	listResp, err := http.Get(srv.URL + "/api/tracks")
	if err != nil {
		t.Fatalf("list tracks: %v", err)
	}
	defer listResp.Body.Close()
	var listing struct {
		Tracks []struct {
			ID      string `json:"id"`
			Source  string `json:"source"`
			Backend string `json:"backend"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Tracks) != 1 || listing.Tracks[0].Source != "talk.mp4" || listing.Tracks[0].Backend != "stub" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	srtResp, err := http.Get(srv.URL + "/api/tracks/" + listing.Tracks[0].ID + ".srt")
	if err != nil {
		t.Fatalf("get srt: %v", err)
	}
	defer srtResp.Body.Close()
	srt, _ := io.ReadAll(srtResp.Body)
	if !strings.Contains(string(srt), "00:00:00,000 --> 00:00:02,000") || !strings.Contains(string(srt), "stub text") {
		t.Fatalf("unexpected srt body: %q", srt)
	}

	vttResp, err := http.Get(srv.URL + "/api/tracks/" + listing.Tracks[0].ID + ".vtt")
	if err != nil {
		t.Fatalf("get vtt: %v", err)
	}
	defer vttResp.Body.Close()
	vtt, _ := io.ReadAll(vttResp.Body)
	if !strings.HasPrefix(string(vtt), "WEBVTT") {
		t.Fatalf("unexpected vtt body: %q", vtt)
	}
}

func TestGenerateEndpointValidation(t *testing.T) {
	_, srv := newTestRuntime(t)

	resp := postJSON(t, srv.URL+"/api/generate", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing source status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/generate", map[string]any{"source": "x.mp4", "backend": "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown backend status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelEndpointWithoutJob(t *testing.T) {
	_, srv := newTestRuntime(t)

	resp := postJSON(t, srv.URL+"/api/cancel", map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel without job status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrackFileErrors(t *testing.T) {
	_, srv := newTestRuntime(t)

	resp, err := http.Get(srv.URL + "/api/tracks/missing.srt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing track status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/tracks/noextension")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad name status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteTrackEndpoint(t *testing.T) {
	r, srv := newTestRuntime(t)

	id, err := r.tracks.SaveTrack(context.Background(), "a.mp4", "stub", "", []segment.Segment{{ID: 0, Start: 0, End: 1, Text: "t"}})
	if err != nil {
		t.Fatalf("save track: %v", err)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/tracks/"+id, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReadyEndpointReflectsState(t *testing.T) {
	r, srv := newTestRuntime(t)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	r.ready.Store(false)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("not-ready status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSetupTelemetryStdoutFallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Telemetry.OTLPEndpoint = ""

	shutdown, metricsHandler, err := setupTelemetry(cfg, logger)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	if metricsHandler == nil {
		t.Fatal("expected a metrics handler")
	}

	srv := httptest.NewServer(metricsHandler)
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown: %v", err)
	}
}
