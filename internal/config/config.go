package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the mediaforge servers.
type Config struct {
	Server    ServerConfig
	Artifact  ArtifactConfig
	Worker    WorkerConfig
	Producer  ProducerConfig
	TTS       TTSConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
}

type ServerConfig struct {
	ComposeAddr     string
	TTSAddr         string
	Env             string
	ShutdownTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

type ArtifactConfig struct {
	Backend    string
	Dir        string
	NATSURL    string
	NATSBucket string
}

type WorkerConfig struct {
	Count      int
	QueueSize  int
	JobTimeout time.Duration
	Retention  time.Duration
}

type ProducerConfig struct {
	Kind       string
	FFmpegPath string
	Template   string
	Audio      string
	InputDir   string
	StubDelay  time.Duration
}

type TTSConfig struct {
	Engine      string
	UpstreamURL string
	Timeout     time.Duration
}

type RedisConfig struct {
	URL string
}

type RateLimitConfig struct {
	PerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	validBackends  = map[string]bool{"fs": true, "nats": true}
	validProducers = map[string]bool{"ffmpeg": true, "stub": true}
	validEngines   = map[string]bool{"sine": true, "http": true}
)

// Load reads configuration from environment variables and returns a validated Config.
// When MEDIAFORGE_CONFIG names a TOML file, its keys (same names as the
// environment variables) supply values the environment does not set.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("MEDIAFORGE_CONFIG"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Server: ServerConfig{
			ComposeAddr:       src.envString("COMPOSE_ADDR", ":8188"),
			TTSAddr:           src.envString("TTS_ADDR", ":5000"),
			Env:               src.envString("MEDIAFORGE_ENV", "development"),
			ShutdownTimeout:   src.envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustProxyHeaders: src.envBool("TRUST_PROXY_HEADERS", false),
		},
		Artifact: ArtifactConfig{
			Backend:    src.envString("ARTIFACT_BACKEND", "fs"),
			Dir:        src.envString("ARTIFACT_DIR", "./output"),
			NATSURL:    src.envString("NATS_URL", "nats://127.0.0.1:4222"),
			NATSBucket: src.envString("NATS_BUCKET", "mediaforge-artifacts"),
		},
		Worker: WorkerConfig{
			Count:      src.envInt("WORKER_COUNT", 4),
			QueueSize:  src.envInt("WORKER_QUEUE_SIZE", 64),
			JobTimeout: src.envDuration("JOB_TIMEOUT", 5*time.Minute),
			Retention:  src.envDuration("JOB_RETENTION", time.Hour),
		},
		Producer: ProducerConfig{
			Kind:       src.envString("PRODUCER", "ffmpeg"),
			FFmpegPath: src.envString("FFMPEG_PATH", "ffmpeg"),
			Template:   src.envString("FFMPEG_TEMPLATE", ""),
			Audio:      src.envString("FFMPEG_AUDIO", ""),
			InputDir:   src.envString("FFMPEG_INPUT_DIR", ""),
			StubDelay:  src.envDuration("STUB_DELAY", 2*time.Second),
		},
		TTS: TTSConfig{
			Engine:      src.envString("TTS_ENGINE", "sine"),
			UpstreamURL: src.envString("TTS_UPSTREAM_URL", ""),
			Timeout:     src.envDuration("TTS_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL: src.envString("REDIS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			PerMinute: src.envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             src.envString("DATABASE_URL", ""),
			MaxOpenConns:    src.envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    src.envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: src.envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Artifact.Backend] {
		return fmt.Errorf("ARTIFACT_BACKEND must be one of fs, nats; got %q", c.Artifact.Backend)
	}
	if c.Artifact.Backend == "fs" && c.Artifact.Dir == "" {
		return fmt.Errorf("ARTIFACT_DIR is required when ARTIFACT_BACKEND is fs")
	}
	if c.Artifact.Backend == "nats" && (c.Artifact.NATSURL == "" || c.Artifact.NATSBucket == "") {
		return fmt.Errorf("NATS_URL and NATS_BUCKET are required when ARTIFACT_BACKEND is nats")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be at least 1, got %d", c.Worker.QueueSize)
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.Worker.JobTimeout)
	}
	if c.Worker.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive, got %s", c.Worker.Retention)
	}

	if !validProducers[c.Producer.Kind] {
		return fmt.Errorf("PRODUCER must be one of ffmpeg, stub; got %q", c.Producer.Kind)
	}
	if c.Producer.Kind == "ffmpeg" && c.Producer.FFmpegPath == "" {
		return fmt.Errorf("FFMPEG_PATH is required when PRODUCER is ffmpeg")
	}

	if !validEngines[c.TTS.Engine] {
		return fmt.Errorf("TTS_ENGINE must be one of sine, http; got %q", c.TTS.Engine)
	}
	if c.TTS.Engine == "http" {
		if c.TTS.UpstreamURL == "" {
			return fmt.Errorf("TTS_UPSTREAM_URL is required when TTS_ENGINE is http")
		}
		if !strings.HasPrefix(c.TTS.UpstreamURL, "http://") && !strings.HasPrefix(c.TTS.UpstreamURL, "https://") {
			return fmt.Errorf("TTS_UPSTREAM_URL must start with http:// or https://, got %q", c.TTS.UpstreamURL)
		}
	}
	if c.TTS.Timeout <= 0 {
		return fmt.Errorf("TTS_TIMEOUT must be positive, got %s", c.TTS.Timeout)
	}

	if c.RateLimit.PerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimit.PerMinute)
	}

	return nil
}

// IsProduction reports whether MEDIAFORGE_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// source resolves a key from the environment first, then from the optional
// config file.
type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: key %q must be a plain value", path, k)
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) envString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) envInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) envBool(key string, defaultVal bool) bool {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func (s source) envDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
