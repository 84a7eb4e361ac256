package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Chunking.Strategy != "schedule" {
		t.Fatalf("expected default chunking strategy, got %s", cfg.Chunking.Strategy)
	}
	if cfg.Backends.Cloud.Concurrency != 2 {
		t.Fatalf("expected default cloud concurrency 2, got %d", cfg.Backends.Cloud.Concurrency)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUBGEN_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SUBGEN_BUS_USERNAME", "alice")
	t.Setenv("SUBGEN_BUS_PASSWORD", "secret")
	t.Setenv("SUBGEN_STORE_PATH", "./tmp.db")
	t.Setenv("SUBGEN_STORE_MAX_TRACKS", "42")
	t.Setenv("SUBGEN_CHUNKING_STRATEGY", "vad")
	t.Setenv("SUBGEN_CHUNKING_BATCH_SECONDS", "60")
	t.Setenv("SUBGEN_CHUNKING_SILENCE_THRESHOLD", "0.02")
	t.Setenv("SUBGEN_BACKEND_DEFAULT", "remote")
	t.Setenv("SUBGEN_BACKEND_REMOTE_ENDPOINT", "http://asr:9000/v1/audio/transcriptions")
	t.Setenv("SUBGEN_BACKEND_REMOTE_TIME_SCALE", "0.01")
	t.Setenv("SUBGEN_BACKEND_CLOUD_API_KEY", "k-123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.MaxTracks != 42 {
		t.Fatalf("expected max tracks override, got %d", cfg.Store.MaxTracks)
	}
	if cfg.Chunking.Strategy != "vad" {
		t.Fatalf("expected chunking strategy override")
	}
	if cfg.Chunking.BatchSeconds != 60 {
		t.Fatalf("expected batch seconds override, got %v", cfg.Chunking.BatchSeconds)
	}
	if cfg.Chunking.SilenceThreshold != 0.02 {
		t.Fatalf("expected silence threshold override, got %v", cfg.Chunking.SilenceThreshold)
	}
	if cfg.Backends.Default != "remote" {
		t.Fatalf("expected default backend override")
	}
	if cfg.Backends.Remote.Endpoint != "http://asr:9000/v1/audio/transcriptions" {
		t.Fatalf("expected remote endpoint override")
	}
	if cfg.Backends.Remote.TimeScale != 0.01 {
		t.Fatalf("expected remote time scale override, got %v", cfg.Backends.Remote.TimeScale)
	}
	if cfg.Backends.Cloud.APIKey != "k-123" {
		t.Fatalf("expected cloud api key override")
	}
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	t.Setenv("SUBGEN_CHUNKING_STRATEGY", "energy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown chunking strategy")
	}
}
