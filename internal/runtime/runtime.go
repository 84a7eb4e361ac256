package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sublabs/subgen-core/internal/backend"
	"github.com/sublabs/subgen-core/internal/bus"
	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/media"
	"github.com/sublabs/subgen-core/internal/natsserver"
	"github.com/sublabs/subgen-core/internal/orchestrator"
	"github.com/sublabs/subgen-core/internal/store"
)

// Runtime owns the composed service: telemetry, optional embedded bus, the
// track store, the transcription adapters, and the HTTP control surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	busClient      *bus.Client
	tracks         *store.Store
	service        *orchestrator.Service
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up and serves until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded

		busClient, err := bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		r.busClient = busClient
	}

	tracks, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open track store: %w", err)
	}
	r.tracks = tracks

	decoder, err := media.NewFFmpegDecoder(r.cfg.Media.FFmpegPath, r.cfg.Media.SampleRate)
	if err != nil {
		return fmt.Errorf("init decoder: %w", err)
	}

	adapters, err := r.buildAdapters()
	if err != nil {
		return err
	}

	service, err := orchestrator.NewService(r.cfg, decoder, adapters, tracks, r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	r.service = service

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("default_backend", r.cfg.Backends.Default))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := r.service.Cancel(); err != nil && !errors.Is(err, orchestrator.ErrNoJob) {
		r.logger.Warn("cancel running job", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.tracks.Close(); err != nil {
		r.logger.Error("track store close error", slog.String("error", err.Error()))
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildAdapters constructs every configured backend. A broken non-default
// backend is skipped with a warning; a broken default is fatal.
func (r *Runtime) buildAdapters() (map[string]backend.Adapter, error) {
	adapters := make(map[string]backend.Adapter)

	if r.cfg.Backends.Local.Command != "" {
		local, err := backend.NewLocal(r.cfg.Backends.Local, r.logger)
		if err != nil {
			if r.cfg.Backends.Default == "local" {
				return nil, fmt.Errorf("init local backend: %w", err)
			}
			r.logger.Warn("local backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters["local"] = local
		}
	}

	if r.cfg.Backends.Remote.Endpoint != "" {
		remote, err := backend.NewHTTPServer(r.cfg.Backends.Remote, r.logger)
		if err != nil {
			if r.cfg.Backends.Default == "remote" {
				return nil, fmt.Errorf("init remote backend: %w", err)
			}
			r.logger.Warn("remote backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters["remote"] = remote
		}
	}

	if r.cfg.Backends.Cloud.Endpoint != "" {
		cloud, err := backend.NewCloud(r.cfg.Backends.Cloud, r.logger)
		if err != nil {
			if r.cfg.Backends.Default == "cloud" {
				return nil, fmt.Errorf("init cloud backend: %w", err)
			}
			r.logger.Warn("cloud backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters["cloud"] = cloud
		}
	}

	if len(adapters) == 0 {
		return nil, errors.New("no transcription backends configured")
	}
	return adapters, nil
}
