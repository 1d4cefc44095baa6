// Package config loads process configuration for both commands.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then VERIFYFLOW_* environment variables. Validate runs last so a bad
// value fails at startup instead of mid-flow.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	liststr "verifyflow/pkg/platform/strings"
)

// Session store kinds.
const (
	SessionStoreFile   = "file"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// Camera kinds.
const (
	CameraSynthetic = "synthetic"
	CameraGStreamer = "gstreamer"
)

// Audit sink kinds.
const (
	AuditSinkNone     = "none"
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// Config is the root configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Capture CaptureConfig `yaml:"capture"`
	Audit   AuditConfig   `yaml:"audit"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig points the client at the onboarding backend.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig selects where the per-profile session id is persisted.
type SessionConfig struct {
	Store   string `yaml:"store"`
	Dir     string `yaml:"dir"`
	Profile string `yaml:"profile"`
}

// RedisConfig configures the optional redis connection.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CaptureConfig tunes the capture surfaces.
type CaptureConfig struct {
	Camera              string        `yaml:"camera"`
	DevicePath          string        `yaml:"device_path"`
	RecordDuration      time.Duration `yaml:"record_duration"`
	Countdown           time.Duration `yaml:"countdown"`
	AdvanceDelay        time.Duration `yaml:"advance_delay"`
	WarmupTimeout       time.Duration `yaml:"warmup_timeout"`
	FaceJPEGQuality     int           `yaml:"face_jpeg_quality"`
	DocumentJPEGQuality int           `yaml:"document_jpeg_quality"`
}

// AuditConfig selects the capture audit sink.
type AuditConfig struct {
	Sink         string   `yaml:"sink"`
	PostgresURL  string   `yaml:"postgres_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	BufferSize   int      `yaml:"buffer_size"`
	// SampleRate is the fraction of operations events kept. Zero keeps all.
	SampleRate   float64  `yaml:"sample_rate"`
}

// ServerConfig is used by the development backend.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	PublicURL      string        `yaml:"public_url"`
	LinkSigningKey string        `yaml:"link_signing_key"`
	LinkTTL        time.Duration `yaml:"link_ttl"`
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit      int           `yaml:"rate_limit"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs locally against the dev backend.
func Default() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			Store:   SessionStoreFile,
			Dir:     filepath.Join(dir, "verifyflow"),
			Profile: "default",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Capture: CaptureConfig{
			Camera:              CameraSynthetic,
			DevicePath:          "/dev/video0",
			RecordDuration:      4 * time.Second,
			Countdown:           3 * time.Second,
			AdvanceDelay:        1500 * time.Millisecond,
			WarmupTimeout:       3 * time.Second,
			FaceJPEGQuality:     90,
			DocumentJPEGQuality: 95,
		},
		Audit: AuditConfig{
			Sink:       AuditSinkMemory,
			KafkaTopic: "verifyflow.capture-events",
			BufferSize: 256,
			SampleRate: 1,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MetricsAddr:    "",
			PublicURL:      "http://localhost:8080",
			LinkSigningKey: "dev-secret-key-change-in-production",
			LinkTTL:        24 * time.Hour,
			RateLimit:      300,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("VERIFYFLOW_BACKEND_URL", &c.Backend.BaseURL)
	dur("VERIFYFLOW_BACKEND_TIMEOUT", &c.Backend.Timeout)

	str("VERIFYFLOW_SESSION_STORE", &c.Session.Store)
	str("VERIFYFLOW_SESSION_DIR", &c.Session.Dir)
	str("VERIFYFLOW_PROFILE", &c.Session.Profile)

	str("VERIFYFLOW_REDIS_URL", &c.Redis.URL)
	num("VERIFYFLOW_REDIS_POOL_SIZE", &c.Redis.PoolSize)

	str("VERIFYFLOW_CAMERA", &c.Capture.Camera)
	str("VERIFYFLOW_CAMERA_DEVICE", &c.Capture.DevicePath)
	dur("VERIFYFLOW_RECORD_DURATION", &c.Capture.RecordDuration)
	dur("VERIFYFLOW_COUNTDOWN", &c.Capture.Countdown)
	dur("VERIFYFLOW_ADVANCE_DELAY", &c.Capture.AdvanceDelay)
	dur("VERIFYFLOW_WARMUP_TIMEOUT", &c.Capture.WarmupTimeout)

	str("VERIFYFLOW_AUDIT_SINK", &c.Audit.Sink)
	str("VERIFYFLOW_AUDIT_POSTGRES_URL", &c.Audit.PostgresURL)
	if v, ok := lookup("VERIFYFLOW_AUDIT_KAFKA_BROKERS"); ok && v != "" {
		c.Audit.KafkaBrokers = liststr.SplitList(v, ",")
	}
	str("VERIFYFLOW_AUDIT_KAFKA_TOPIC", &c.Audit.KafkaTopic)
	if v, ok := lookup("VERIFYFLOW_AUDIT_SAMPLE_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("VERIFYFLOW_AUDIT_SAMPLE_RATE: %w", err))
		} else {
			c.Audit.SampleRate = rate
		}
	}

	str("VERIFYFLOW_ADDR", &c.Server.Addr)
	str("VERIFYFLOW_METRICS_ADDR", &c.Server.MetricsAddr)
	str("VERIFYFLOW_PUBLIC_URL", &c.Server.PublicURL)
	str("VERIFYFLOW_LINK_SIGNING_KEY", &c.Server.LinkSigningKey)
	num("VERIFYFLOW_RATE_LIMIT", &c.Server.RateLimit)

	str("VERIFYFLOW_LOG_LEVEL", &c.Log.Level)
	str("VERIFYFLOW_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	switch c.Session.Store {
	case SessionStoreFile:
		if c.Session.Dir == "" {
			errs = append(errs, errors.New("session.dir is required for the file store"))
		}
	case SessionStoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis session store"))
		}
	case SessionStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown session store %q", c.Session.Store))
	}
	if c.Session.Profile == "" {
		errs = append(errs, errors.New("session.profile is required"))
	}
	switch c.Capture.Camera {
	case CameraSynthetic, CameraGStreamer:
	default:
		errs = append(errs, fmt.Errorf("unknown camera %q", c.Capture.Camera))
	}
	if c.Capture.RecordDuration <= 0 {
		errs = append(errs, errors.New("capture.record_duration must be positive"))
	}
	if !validQuality(c.Capture.FaceJPEGQuality) || !validQuality(c.Capture.DocumentJPEGQuality) {
		errs = append(errs, errors.New("capture jpeg quality must be between 1 and 100"))
	}
	if c.Audit.SampleRate < 0 || c.Audit.SampleRate > 1 {
		errs = append(errs, errors.New("audit.sample_rate must be between 0 and 1"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	switch c.Audit.Sink {
	case AuditSinkNone, AuditSinkMemory:
	case AuditSinkPostgres:
		if c.Audit.PostgresURL == "" {
			errs = append(errs, errors.New("audit.postgres_url is required for the postgres sink"))
		}
	case AuditSinkKafka:
		if len(c.Audit.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("audit.kafka_brokers is required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit sink %q", c.Audit.Sink))
	}
	return errors.Join(errs...)
}

func validQuality(q int) bool {
	return q >= 1 && q <= 100
}
