package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sublabs/subgen-core/internal/config"
	"github.com/sublabs/subgen-core/internal/segment"
)

// ErrNotFound is returned when a track id does not exist.
var ErrNotFound = errors.New("track not found")

// Track is one finished subtitle run.
type Track struct {
	ID        string
	Source    string
	Backend   string
	Language  string
	CreatedAt time.Time
	Cues      []segment.Segment
}

// Store persists finished subtitle tracks in SQLite. In ephemeral retention
// mode every method is a no-op, matching a deployment that only streams
// results over the bus.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the track store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("track store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("track store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS tracks (
    track_id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    backend TEXT NOT NULL,
    language TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS cues (
    track_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    start_s REAL NOT NULL,
    end_s REAL NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY(track_id, idx),
    FOREIGN KEY(track_id) REFERENCES tracks(track_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tracks_created ON tracks(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTrack writes a finished track and its cues, returning the new track id.
// Ephemeral mode returns an empty id without touching disk.
func (s *Store) SaveTrack(ctx context.Context, source, backend, language string, cues []segment.Segment) (string, error) {
	if s.db == nil {
		return "", nil
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tracks(track_id, source, backend, language, created_at) VALUES(?, ?, ?, ?, ?)`,
		id, source, backend, language, s.clock().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("insert track: %w", err)
	}
	for _, c := range cues {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cues(track_id, idx, start_s, end_s, text) VALUES(?, ?, ?, ?, ?)`,
			id, c.ID, c.Start, c.End, c.Text); err != nil {
			return "", fmt.Errorf("insert cue %d: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn("track store prune failed", slog.String("error", err.Error()))
	}
	return id, nil
}

// GetTrack loads a track with its cues in index order.
func (s *Store) GetTrack(ctx context.Context, id string) (Track, error) {
	if s.db == nil {
		return Track{}, ErrNotFound
	}
	var t Track
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT track_id, source, backend, language, created_at FROM tracks WHERE track_id = ?`, id).
		Scan(&t.ID, &t.Source, &t.Backend, &t.Language, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, ErrNotFound
	}
	if err != nil {
		return Track{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		t.CreatedAt = ts
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, start_s, end_s, text FROM cues WHERE track_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return Track{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c segment.Segment
		if err := rows.Scan(&c.ID, &c.Start, &c.End, &c.Text); err != nil {
			return Track{}, err
		}
		t.Cues = append(t.Cues, c)
	}
	return t, rows.Err()
}

// ListTracks returns track metadata (no cues), newest first.
func (s *Store) ListTracks(ctx context.Context, limit int) ([]Track, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id, source, backend, language, created_at
		 FROM tracks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		var created string
		if err := rows.Scan(&t.ID, &t.Source, &t.Backend, &t.Language, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// DeleteTrack removes a track and its cues.
func (s *Store) DeleteTrack(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE track_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune applies the configured retention cap, dropping the oldest tracks.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxTracks <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE track_id IN (
		SELECT track_id FROM tracks ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxTracks)
	return err
}
