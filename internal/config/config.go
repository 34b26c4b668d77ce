// Package config resolves runtime configuration from the environment
// (a .env file is honored when present) with optional overrides from a YAML
// file passed on the command line.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Engine     EngineConfig     `yaml:"engine"`
	Cache      CacheConfig      `yaml:"cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Scan       ScanConfig       `yaml:"scan"`
	Export     ExportConfig     `yaml:"export"`
}

type ProviderConfig struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Seed        int64   `yaml:"seed"`
	// Timeout bounds one provider call attempt; retries get fresh budgets.
	Timeout time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	MaxRepairs     int           `yaml:"max_repairs"`
	StageTimeout   time.Duration `yaml:"stage_timeout"`
	DedupThreshold float64       `yaml:"dedup_threshold"`
}

type CacheConfig struct {
	Dir            string        `yaml:"dir"`
	MemoryEntries  int           `yaml:"memory_entries"`
	DiskEntries    int           `yaml:"disk_entries"`
	DiskBytes      int64         `yaml:"disk_bytes"`
	TTL            time.Duration `yaml:"ttl"`
	DisableDisk    bool          `yaml:"disable_disk"`
}

type CheckpointConfig struct {
	// Backend is "fs" or "postgres".
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type ScanConfig struct {
	Workers     int   `yaml:"workers"`
	MaxFileSize int64 `yaml:"max_file_size"`
}

type ExportConfig struct {
	// Backend is "fs" or "s3".
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
}

// Load resolves configuration from the environment, then applies the YAML
// file at path when path is non-empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	fromEnv(cfg)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		},
		Engine: EngineConfig{
			MaxRepairs:     2,
			StageTimeout:   120 * time.Second,
			DedupThreshold: 0.7,
		},
		Cache: CacheConfig{
			Dir:           ".megaprompt/cache",
			MemoryEntries: 256,
			DiskEntries:   512,
			TTL:           7 * 24 * time.Hour,
		},
		Checkpoint: CheckpointConfig{
			Backend: "fs",
			Dir:     ".megaprompt/checkpoints",
		},
		Scan: ScanConfig{
			Workers:     8,
			MaxFileSize: 1 << 20,
		},
		Export: ExportConfig{
			Backend:  "fs",
			Dir:      ".megaprompt/artifacts",
			S3Region: "us-east-1",
		},
	}
}

func fromEnv(cfg *Config) {
	setStr(&cfg.Provider.Name, "MEGAPROMPT_PROVIDER")
	setStr(&cfg.Provider.Model, "MEGAPROMPT_MODEL")
	setFloat(&cfg.Provider.Temperature, "MEGAPROMPT_TEMPERATURE")
	setInt64(&cfg.Provider.Seed, "MEGAPROMPT_SEED")
	setDuration(&cfg.Provider.Timeout, "MEGAPROMPT_PROVIDER_TIMEOUT")

	setInt(&cfg.Engine.MaxRepairs, "MEGAPROMPT_MAX_REPAIRS")
	setDuration(&cfg.Engine.StageTimeout, "MEGAPROMPT_STAGE_TIMEOUT")
	setFloat(&cfg.Engine.DedupThreshold, "MEGAPROMPT_DEDUP_THRESHOLD")

	setStr(&cfg.Cache.Dir, "MEGAPROMPT_CACHE_DIR")
	setInt(&cfg.Cache.MemoryEntries, "MEGAPROMPT_CACHE_MEMORY_ENTRIES")
	setInt(&cfg.Cache.DiskEntries, "MEGAPROMPT_CACHE_DISK_ENTRIES")
	setInt64(&cfg.Cache.DiskBytes, "MEGAPROMPT_CACHE_DISK_BYTES")
	setDuration(&cfg.Cache.TTL, "MEGAPROMPT_CACHE_TTL")
	setBool(&cfg.Cache.DisableDisk, "MEGAPROMPT_CACHE_DISABLE_DISK")

	setStr(&cfg.Checkpoint.Backend, "MEGAPROMPT_CHECKPOINT_BACKEND")
	setStr(&cfg.Checkpoint.Dir, "MEGAPROMPT_CHECKPOINT_DIR")
	cfg.Checkpoint.PostgresDSN = firstNonEmpty(
		os.Getenv("MEGAPROMPT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"), cfg.Checkpoint.PostgresDSN)

	setInt(&cfg.Scan.Workers, "MEGAPROMPT_SCAN_WORKERS")
	setInt64(&cfg.Scan.MaxFileSize, "MEGAPROMPT_SCAN_MAX_FILE_SIZE")

	setStr(&cfg.Export.Backend, "MEGAPROMPT_EXPORT_BACKEND")
	setStr(&cfg.Export.Dir, "MEGAPROMPT_EXPORT_DIR")
	setStr(&cfg.Export.S3Endpoint, "MEGAPROMPT_S3_ENDPOINT")
	setStr(&cfg.Export.S3Region, "MEGAPROMPT_S3_REGION")
	cfg.Export.S3AccessKey = firstNonEmpty(
		os.Getenv("MEGAPROMPT_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER"), cfg.Export.S3AccessKey)
	cfg.Export.S3SecretKey = firstNonEmpty(
		os.Getenv("MEGAPROMPT_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD"), cfg.Export.S3SecretKey)
	setStr(&cfg.Export.S3Bucket, "MEGAPROMPT_S3_BUCKET")
	setBool(&cfg.Export.S3UseSSL, "MEGAPROMPT_S3_USE_SSL")
}

func validate(cfg *Config) error {
	switch cfg.Checkpoint.Backend {
	case "fs":
	case "postgres":
		if strings.TrimSpace(cfg.Checkpoint.PostgresDSN) == "" {
			return fmt.Errorf("config: checkpoint backend postgres needs a dsn")
		}
	default:
		return fmt.Errorf("config: unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	switch cfg.Export.Backend {
	case "fs":
	case "s3":
		if strings.TrimSpace(cfg.Export.S3Endpoint) == "" || strings.TrimSpace(cfg.Export.S3Bucket) == "" {
			return fmt.Errorf("config: export backend s3 needs an endpoint and bucket")
		}
	default:
		return fmt.Errorf("config: unknown export backend %q", cfg.Export.Backend)
	}
	if cfg.Engine.DedupThreshold < 0 || cfg.Engine.DedupThreshold > 1 {
		return fmt.Errorf("config: dedup threshold must be in [0,1]")
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
