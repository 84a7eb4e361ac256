package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sublabs/subgen-core/internal/export"
	"github.com/sublabs/subgen-core/internal/orchestrator"
	"github.com/sublabs/subgen-core/internal/store"
)

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", r.handleGenerate)
	mux.HandleFunc("POST /api/cancel", r.handleCancel)
	mux.HandleFunc("GET /api/job", r.handleJob)
	mux.HandleFunc("GET /api/tracks", r.handleListTracks)
	mux.HandleFunc("GET /api/tracks/{file}", r.handleTrackFile)
	mux.HandleFunc("DELETE /api/tracks/{id}", r.handleDeleteTrack)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

type generateRequest struct {
	Source   string `json:"source"`
	Backend  string `json:"backend,omitempty"`
	TestMode bool   `json:"test_mode,omitempty"`
}

func (r *Runtime) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	jobID, err := r.service.Start(orchestrator.Request{
		Source:   body.Source,
		Backend:  body.Backend,
		TestMode: body.TestMode,
	})
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		// Same source repeated: press-to-stop semantics.
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, orchestrator.ErrJobAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "job_id": jobID})
	}
}

func (r *Runtime) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := r.service.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (r *Runtime) handleJob(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.service.Status())
}

func (r *Runtime) handleListTracks(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	tracks, err := r.tracks.ListTracks(req.Context(), limit)
	if err != nil {
		r.logger.Error("list tracks failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "list tracks failed")
		return
	}

	type trackMeta struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		Backend   string `json:"backend"`
		Language  string `json:"language,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]trackMeta, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackMeta{
			ID:        t.ID,
			Source:    t.Source,
			Backend:   t.Backend,
			Language:  t.Language,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": out})
}

// handleTrackFile serves a stored track rendered as {id}.srt or {id}.vtt.
func (r *Runtime) handleTrackFile(w http.ResponseWriter, req *http.Request) {
	file := req.PathValue("file")
	id, format, ok := strings.Cut(file, ".")
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, "expected {id}.srt or {id}.vtt")
		return
	}

	track, err := r.tracks.GetTrack(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	if err != nil {
		r.logger.Error("load track failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "load track failed")
		return
	}

	switch format {
	case "srt":
		w.Header().Set("Content-Type", "application/x-subrip")
		err = export.WriteSRT(w, track.Cues)
	case "vtt":
		w.Header().Set("Content-Type", "text/vtt")
		err = export.WriteVTT(w, track.Cues)
	default:
		writeError(w, http.StatusBadRequest, "unsupported format "+format)
		return
	}
	if err != nil {
		r.logger.Error("render track failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleDeleteTrack(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	err := r.tracks.DeleteTrack(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	if err != nil {
		r.logger.Error("delete track failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "delete track failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
