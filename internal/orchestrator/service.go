package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sublabs/subgen-core/internal/backend"
	"github.com/sublabs/subgen-core/internal/bus"
	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/media"
	"github.com/sublabs/subgen-core/internal/segment"
	"github.com/sublabs/subgen-core/internal/store"
)

var (
	// ErrJobAlreadyRunning rejects a generation request for a different
	// source while a job is in flight.
	ErrJobAlreadyRunning = errors.New("another job is already running")
	// ErrNoJob is returned by Cancel when nothing is running.
	ErrNoJob = errors.New("no job is running")
	// ErrCancelled resolves a Generate call whose job was cancelled; the
	// partial segment list is still returned alongside it.
	ErrCancelled = errors.New("job cancelled")
)

// Request describes one generation run.
type Request struct {
	Source   string
	Backend  string // empty selects the configured default
	TestMode bool
}

// Result is the final outcome of a completed job.
type Result struct {
	JobID    uint64
	TrackID  string
	Backend  string
	Segments []segment.Segment
}

// Status is a point-in-time view of the service for the control API.
type Status struct {
	JobID    uint64 `json:"job_id"`
	Source   string `json:"source,omitempty"`
	State    string `json:"state"`
	Chunks   int    `json:"chunks_done"`
	Segments int    `json:"segments"`
}

// Service runs at most one subtitle-generation job at a time. Cancellation
// is cooperative: bumping the job counter makes every pending publish and
// mutation of the stale job a no-op, and the job context aborts in-flight
// transport calls as a courtesy.
type Service struct {
	cfg      config.Config
	decoder  media.Decoder
	adapters map[string]backend.Adapter
	store    *store.Store
	bus      *bus.Client // nil when the bus is disabled
	log      *slog.Logger
	metrics  *jobMetrics

	// OnProgress receives the full sorted segment list after every merged
	// chunk. Optional; called from job goroutines.
	OnProgress func([]segment.Segment)

	counter atomic.Uint64

	mu      sync.Mutex
	current *job
}

func NewService(cfg config.Config, decoder media.Decoder, adapters map[string]backend.Adapter, st *store.Store, busClient *bus.Client, log *slog.Logger) (*Service, error) {
	if len(adapters) == 0 {
		return nil, errors.New("no backend adapters configured")
	}
	if _, ok := adapters[cfg.Backends.Default]; !ok {
		return nil, fmt.Errorf("default backend %q not available", cfg.Backends.Default)
	}
	metrics, err := newJobMetrics()
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		decoder:  decoder,
		adapters: adapters,
		store:    st,
		bus:      busClient,
		log:      log,
		metrics:  metrics,
	}, nil
}

// Generate runs one job to completion and returns the final merged list.
// Repeating the in-flight source acts as a cancel toggle: the running job is
// cancelled and ErrCancelled is returned without starting a new one. A
// different source while busy is rejected with ErrJobAlreadyRunning.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	j, err := s.begin(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer s.finish(j)
	return j.run()
}

// Start admits a job like Generate but runs it in the background, returning
// its id. The job is detached from the caller's context.
func (s *Service) Start(req Request) (uint64, error) {
	j, err := s.begin(context.Background(), req)
	if err != nil {
		return 0, err
	}
	go func() {
		defer s.finish(j)
		if _, err := j.run(); err != nil && !errors.Is(err, ErrCancelled) {
			s.log.Error("job failed",
				slog.Uint64("job_id", j.id),
				slog.String("error", err.Error()))
		}
	}()
	return j.id, nil
}

func (s *Service) begin(ctx context.Context, req Request) (*job, error) {
	adapter, err := s.selectAdapter(req.Backend)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if running := s.current; running != nil {
		if running.source == req.Source {
			s.cancelLocked(running)
			return nil, ErrCancelled
		}
		return nil, ErrJobAlreadyRunning
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id:      s.counter.Add(1),
		source:  req.Source,
		adapter: adapter,
		svc:     s,
		ctx:     jobCtx,
		cancel:  cancel,
		acc:     segment.NewAccumulator(s.cfg.Backends.SuffixThreshold),
		test:    req.TestMode,
		state:   statePreparing,
	}
	s.current = j
	return j, nil
}

func (s *Service) finish(j *job) {
	j.cancel()
	s.mu.Lock()
	if s.current == j {
		s.current = nil
	}
	s.mu.Unlock()
}

// Cancel aborts the running job, keeping its already-merged segments.
func (s *Service) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoJob
	}
	s.cancelLocked(s.current)
	return nil
}

// cancelLocked invalidates the job's counter slot first so results that race
// with the context cancellation are discarded, not published.
func (s *Service) cancelLocked(j *job) {
	s.counter.Add(1)
	j.cancel()
	s.log.Info("job cancelled",
		slog.Uint64("job_id", j.id),
		slog.String("source", j.source))
}

// Status reports the current job, or an idle status when none is running.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Status{State: stateIdle}
	}
	return s.current.status()
}

func (s *Service) selectAdapter(name string) (backend.Adapter, error) {
	if name == "" {
		name = s.cfg.Backends.Default
	}
	adapter, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return adapter, nil
}

// live reports whether id is still the newest job. Checked before every
// publish and every accumulator mutation.
func (s *Service) live(id uint64) bool {
	return s.counter.Load() == id
}
