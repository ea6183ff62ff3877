// Package config loads daemon configuration from an optional YAML file and
// applies SIM_* environment overrides on top, so containers can tweak single
// values without shipping a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinix84/pyplecs-sub000/internal/observability"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type OrchestratorConfig struct {
	Workers         int      `yaml:"workers"`
	MaxBatchSize    int      `yaml:"max_batch_size"`
	BandTolerance   int      `yaml:"band_tolerance"`
	MaxRetries      int      `yaml:"max_retries"`
	BaseDelay       Duration `yaml:"base_delay"`
	MaxDelay        Duration `yaml:"max_delay"`
	DispatchTimeout Duration `yaml:"dispatch_timeout"`
	Retention       Duration `yaml:"retention"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	FloatPrecision  int      `yaml:"float_precision"`
	ExcludeKeys     []string `yaml:"exclude_keys"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type CacheConfig struct {
	Backend  string      `yaml:"backend"` // memory, disk, minio
	Dir      string      `yaml:"dir"`
	TTL      Duration    `yaml:"ttl"`
	MaxBytes int64       `yaml:"max_bytes"`
	Minio    MinioConfig `yaml:"minio"`
}

type EngineConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type Config struct {
	Listen       string                  `yaml:"listen"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
	Cache        CacheConfig             `yaml:"cache"`
	Engine       EngineConfig            `yaml:"engine"`
	Log          observability.LogConfig `yaml:"log"`
}

func defaults() Config {
	return Config{
		Listen: ":8080",
		Orchestrator: OrchestratorConfig{
			Workers:         2,
			MaxBatchSize:    8,
			BandTolerance:   1,
			MaxRetries:      3,
			BaseDelay:       Duration(2 * time.Second),
			MaxDelay:        Duration(2 * time.Minute),
			DispatchTimeout: Duration(5 * time.Minute),
			Retention:       Duration(time.Hour),
			SweepInterval:   Duration(time.Minute),
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     Duration(24 * time.Hour),
		},
		Engine: EngineConfig{
			URL:     "http://127.0.0.1:9090",
			Timeout: Duration(5 * time.Minute),
		},
		Log: observability.LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file is
// absent) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "disk":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required when cache.backend=disk")
		}
	case "minio":
		if c.Cache.Minio.Endpoint == "" || c.Cache.Minio.Bucket == "" {
			return fmt.Errorf("cache.minio.endpoint and cache.minio.bucket are required when cache.backend=minio")
		}
	default:
		return fmt.Errorf("unsupported cache.backend %q", c.Cache.Backend)
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = getenv("SIM_LISTEN", cfg.Listen)
	cfg.Orchestrator.Workers = getenvInt("SIM_WORKERS", cfg.Orchestrator.Workers)
	cfg.Orchestrator.MaxBatchSize = getenvInt("SIM_MAX_BATCH_SIZE", cfg.Orchestrator.MaxBatchSize)
	cfg.Orchestrator.BandTolerance = getenvInt("SIM_BAND_TOLERANCE", cfg.Orchestrator.BandTolerance)
	cfg.Orchestrator.MaxRetries = getenvInt("SIM_MAX_RETRIES", cfg.Orchestrator.MaxRetries)
	cfg.Orchestrator.FloatPrecision = getenvInt("SIM_FLOAT_PRECISION", cfg.Orchestrator.FloatPrecision)
	cfg.Orchestrator.BaseDelay = getenvDuration("SIM_RETRY_BASE_DELAY", cfg.Orchestrator.BaseDelay)
	cfg.Orchestrator.MaxDelay = getenvDuration("SIM_RETRY_MAX_DELAY", cfg.Orchestrator.MaxDelay)
	cfg.Orchestrator.DispatchTimeout = getenvDuration("SIM_DISPATCH_TIMEOUT", cfg.Orchestrator.DispatchTimeout)
	cfg.Orchestrator.Retention = getenvDuration("SIM_RETENTION", cfg.Orchestrator.Retention)
	cfg.Orchestrator.SweepInterval = getenvDuration("SIM_SWEEP_INTERVAL", cfg.Orchestrator.SweepInterval)
	if raw := strings.TrimSpace(os.Getenv("SIM_EXCLUDE_KEYS")); raw != "" {
		keys := make([]string, 0, 4)
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Orchestrator.ExcludeKeys = keys
	}

	cfg.Cache.Backend = getenv("SIM_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Dir = getenv("SIM_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.TTL = getenvDuration("SIM_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.MaxBytes = int64(getenvInt("SIM_CACHE_MAX_BYTES", int(cfg.Cache.MaxBytes)))
	cfg.Cache.Minio.Endpoint = getenv("SIM_MINIO_ENDPOINT", cfg.Cache.Minio.Endpoint)
	cfg.Cache.Minio.AccessKey = getenv("SIM_MINIO_ACCESS_KEY", cfg.Cache.Minio.AccessKey)
	cfg.Cache.Minio.SecretKey = getenv("SIM_MINIO_SECRET_KEY", cfg.Cache.Minio.SecretKey)
	cfg.Cache.Minio.Bucket = getenv("SIM_MINIO_BUCKET", cfg.Cache.Minio.Bucket)
	cfg.Cache.Minio.Prefix = getenv("SIM_MINIO_PREFIX", cfg.Cache.Minio.Prefix)
	cfg.Cache.Minio.UseSSL = getenvBool("SIM_MINIO_USE_SSL", cfg.Cache.Minio.UseSSL)

	cfg.Engine.URL = getenv("SIM_ENGINE_URL", cfg.Engine.URL)
	cfg.Engine.Timeout = getenvDuration("SIM_ENGINE_TIMEOUT", cfg.Engine.Timeout)

	cfg.Log.Level = getenv("SIM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("SIM_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getenv("SIM_LOG_FILE", cfg.Log.File)
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func getenvDuration(key string, fallback Duration) Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return Duration(d)
}
