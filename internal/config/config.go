package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	MaxTracks     int    `yaml:"max_tracks"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type MediaConfig struct {
	FFmpegPath string  `yaml:"ffmpeg_path"`
	SampleRate int     `yaml:"sample_rate"`
	MaxSeconds float64 `yaml:"max_seconds"`
}

// ChunkingConfig controls how decoded audio is split before transcription.
// The silence-based values are empirically tuned defaults.
type ChunkingConfig struct {
	Strategy         string  `yaml:"strategy"` // schedule, vad
	BatchSeconds     float64 `yaml:"batch_seconds"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	MinSilenceS      float64 `yaml:"min_silence_s"`
	MinChunkS        float64 `yaml:"min_chunk_s"`
	FilteringEnabled bool    `yaml:"filtering_enabled"`
}

type LocalBackendConfig struct {
	Command     string  `yaml:"command"`
	ModelPath   string  `yaml:"model_path"`
	Language    string  `yaml:"language"`
	MinSegmentS float64 `yaml:"min_segment_s"`
}

type RemoteBackendConfig struct {
	Endpoint  string  `yaml:"endpoint"`
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key"`
	TimeScale float64 `yaml:"time_scale"` // 0 = auto-detect per chunk
	TimeoutS  int     `yaml:"timeout_s"`
}

type CloudBackendConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	MaxAttempts int    `yaml:"max_attempts"`
	Concurrency int    `yaml:"concurrency"`
}

type BackendsConfig struct {
	Default         string              `yaml:"default"` // local, remote, cloud
	SuffixThreshold int                 `yaml:"suffix_threshold"`
	Local           LocalBackendConfig  `yaml:"local"`
	Remote          RemoteBackendConfig `yaml:"remote"`
	Cloud           CloudBackendConfig  `yaml:"cloud"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Media       MediaConfig     `yaml:"media"`
	Chunking    ChunkingConfig  `yaml:"chunking"`
	Backends    BackendsConfig  `yaml:"backends"`
}

func Default() Config {
	return Config{
		RuntimeName: "subgen-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/subgen-tracks.db",
			RetentionMode: "persistent",
			MaxTracks:     1000,
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
			SampleRate: 16000,
			MaxSeconds: 0,
		},
		Chunking: ChunkingConfig{
			Strategy:         "schedule",
			BatchSeconds:     120,
			SilenceThreshold: 0.01,
			MinSilenceS:      0.5,
			MinChunkS:        0.2,
			FilteringEnabled: true,
		},
		Backends: BackendsConfig{
			Default:         "local",
			SuffixThreshold: 3,
			Local: LocalBackendConfig{
				Command:     "whisper-cli --output-json",
				MinSegmentS: 0.2,
			},
			Remote: RemoteBackendConfig{
				Endpoint: "http://localhost:9000/v1/audio/transcriptions",
				Model:    "whisper-1",
				TimeoutS: 300,
			},
			Cloud: CloudBackendConfig{
				Model:       "gemini-2.0-flash",
				MaxAttempts: 3,
				Concurrency: 2,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SUBGEN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SUBGEN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SUBGEN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SUBGEN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SUBGEN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SUBGEN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SUBGEN_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "SUBGEN_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SUBGEN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SUBGEN_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SUBGEN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SUBGEN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SUBGEN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SUBGEN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SUBGEN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SUBGEN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "SUBGEN_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SUBGEN_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.MaxTracks, "SUBGEN_STORE_MAX_TRACKS")
	overrideBool(&cfg.Store.VacuumOnStart, "SUBGEN_STORE_VACUUM_ON_START")
	overrideString(&cfg.Media.FFmpegPath, "SUBGEN_MEDIA_FFMPEG_PATH")
	overrideInt(&cfg.Media.SampleRate, "SUBGEN_MEDIA_SAMPLE_RATE")
	overrideFloat(&cfg.Media.MaxSeconds, "SUBGEN_MEDIA_MAX_SECONDS")
	overrideString(&cfg.Chunking.Strategy, "SUBGEN_CHUNKING_STRATEGY")
	overrideFloat(&cfg.Chunking.BatchSeconds, "SUBGEN_CHUNKING_BATCH_SECONDS")
	overrideFloat(&cfg.Chunking.SilenceThreshold, "SUBGEN_CHUNKING_SILENCE_THRESHOLD")
	overrideFloat(&cfg.Chunking.MinSilenceS, "SUBGEN_CHUNKING_MIN_SILENCE_S")
	overrideFloat(&cfg.Chunking.MinChunkS, "SUBGEN_CHUNKING_MIN_CHUNK_S")
	overrideBool(&cfg.Chunking.FilteringEnabled, "SUBGEN_CHUNKING_FILTERING_ENABLED")
	overrideString(&cfg.Backends.Default, "SUBGEN_BACKEND_DEFAULT")
	overrideInt(&cfg.Backends.SuffixThreshold, "SUBGEN_BACKEND_SUFFIX_THRESHOLD")
	overrideString(&cfg.Backends.Local.Command, "SUBGEN_BACKEND_LOCAL_COMMAND")
	overrideString(&cfg.Backends.Local.ModelPath, "SUBGEN_BACKEND_LOCAL_MODEL_PATH")
	overrideString(&cfg.Backends.Local.Language, "SUBGEN_BACKEND_LOCAL_LANGUAGE")
	overrideFloat(&cfg.Backends.Local.MinSegmentS, "SUBGEN_BACKEND_LOCAL_MIN_SEGMENT_S")
	overrideString(&cfg.Backends.Remote.Endpoint, "SUBGEN_BACKEND_REMOTE_ENDPOINT")
	overrideString(&cfg.Backends.Remote.Model, "SUBGEN_BACKEND_REMOTE_MODEL")
	overrideString(&cfg.Backends.Remote.APIKey, "SUBGEN_BACKEND_REMOTE_API_KEY")
	overrideFloat(&cfg.Backends.Remote.TimeScale, "SUBGEN_BACKEND_REMOTE_TIME_SCALE")
	overrideInt(&cfg.Backends.Remote.TimeoutS, "SUBGEN_BACKEND_REMOTE_TIMEOUT_S")
	overrideString(&cfg.Backends.Cloud.Endpoint, "SUBGEN_BACKEND_CLOUD_ENDPOINT")
	overrideString(&cfg.Backends.Cloud.APIKey, "SUBGEN_BACKEND_CLOUD_API_KEY")
	overrideString(&cfg.Backends.Cloud.Model, "SUBGEN_BACKEND_CLOUD_MODEL")
	overrideInt(&cfg.Backends.Cloud.MaxAttempts, "SUBGEN_BACKEND_CLOUD_MAX_ATTEMPTS")
	overrideInt(&cfg.Backends.Cloud.Concurrency, "SUBGEN_BACKEND_CLOUD_CONCURRENCY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionMode == "persistent" && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.MaxTracks < 0 {
		return errors.New("store.max_tracks must be >= 0")
	}
	if cfg.Media.SampleRate <= 0 {
		return errors.New("media.sample_rate must be positive")
	}
	if cfg.Media.MaxSeconds < 0 {
		return errors.New("media.max_seconds must be >= 0")
	}
	switch cfg.Chunking.Strategy {
	case "schedule", "vad":
	default:
		return errors.New("chunking.strategy must be one of schedule|vad")
	}
	if cfg.Chunking.BatchSeconds <= 0 {
		return errors.New("chunking.batch_seconds must be positive")
	}
	if cfg.Chunking.SilenceThreshold <= 0 {
		return errors.New("chunking.silence_threshold must be positive")
	}
	if cfg.Chunking.MinSilenceS <= 0 {
		return errors.New("chunking.min_silence_s must be positive")
	}
	if cfg.Chunking.MinChunkS < 0 {
		return errors.New("chunking.min_chunk_s must be >= 0")
	}
	switch cfg.Backends.Default {
	case "local", "remote", "cloud":
	default:
		return errors.New("backends.default must be one of local|remote|cloud")
	}
	if cfg.Backends.SuffixThreshold < 0 {
		return errors.New("backends.suffix_threshold must be >= 0")
	}
	if cfg.Backends.Local.Command == "" {
		return errors.New("backends.local.command must not be empty")
	}
	if cfg.Backends.Remote.Endpoint == "" {
		return errors.New("backends.remote.endpoint must not be empty")
	}
	if cfg.Backends.Remote.TimeScale < 0 {
		return errors.New("backends.remote.time_scale must be >= 0")
	}
	if cfg.Backends.Remote.TimeoutS <= 0 {
		return errors.New("backends.remote.timeout_s must be positive")
	}
	if cfg.Backends.Cloud.MaxAttempts <= 0 {
		return errors.New("backends.cloud.max_attempts must be positive")
	}
	if cfg.Backends.Cloud.Concurrency <= 0 {
		return errors.New("backends.cloud.concurrency must be positive")
	}
	return nil
}
