// Package config provides configuration loading for the bloodwork analyzer.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the analyzer.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Blob          BlobConfig          `yaml:"blob"`
	Cache         CacheConfig         `yaml:"cache"`
	Vision        VisionConfig        `yaml:"vision"`
	Renderer      RendererConfig      `yaml:"renderer"`
	Upload        UploadConfig        `yaml:"upload"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BlobConfig selects where original uploads are kept.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // memory, fs or s3
	FS     FSConfig `yaml:"fs"`
	S3     S3Config `yaml:"s3"`
}

// FSConfig holds local filesystem blob settings.
type FSConfig struct {
	Root string `yaml:"root"`
}

// S3Config holds S3 (or S3 compatible) blob settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// VisionConfig holds the remote vision model settings.
type VisionConfig struct {
	Driver     string        `yaml:"driver"` // inference or openai
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	PromptPath string        `yaml:"prompt_path"`
}

// RendererConfig holds page rasterisation settings.
type RendererConfig struct {
	DPI               float64 `yaml:"dpi"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	AllowPartialPages bool    `yaml:"allow_partial_pages"`
}

// UploadConfig bounds accepted documents.
type UploadConfig struct {
	MaxSizeMB int `yaml:"max_size_mb"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		if cfg.Vision.PromptPath != "" {
			cfg.Vision.PromptPath = ResolveRelativePath(path, cfg.Vision.PromptPath)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/bloodwork-analyzer.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Blob: BlobConfig{
			Driver: "fs",
			FS: FSConfig{
				Root: "/tmp/bloodwork-analyzer/blobs",
			},
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "bloodwork:",
			},
		},
		Vision: VisionConfig{
			Driver:   "inference",
			Endpoint: "http://localhost:8001",
			Model:    "gemma3:27b",
			Timeout:  300 * time.Second,
		},
		Renderer: RendererConfig{
			DPI:           300,
			MaxConcurrent: 2,
		},
		Upload: UploadConfig{
			MaxSizeMB: 50,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "bloodwork-analyzer",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	switch c.Blob.Driver {
	case "memory":
	case "fs":
		if c.Blob.FS.Root == "" {
			return fmt.Errorf("blob fs root is required")
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob s3 bucket is required")
		}
	default:
		return fmt.Errorf("invalid blob driver: %s", c.Blob.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Vision.Driver != "inference" && c.Vision.Driver != "openai" {
		return fmt.Errorf("invalid vision driver: %s", c.Vision.Driver)
	}

	if c.Vision.Endpoint == "" {
		return fmt.Errorf("vision endpoint is required")
	}

	if c.Vision.Timeout <= 0 {
		return fmt.Errorf("vision timeout must be positive")
	}

	if c.Renderer.DPI < 36 || c.Renderer.DPI > 1200 {
		return fmt.Errorf("renderer dpi must be between 36 and 1200")
	}

	if c.Renderer.MaxConcurrent < 1 {
		return fmt.Errorf("renderer max_concurrent must be at least 1")
	}

	if c.Upload.MaxSizeMB < 1 {
		return fmt.Errorf("upload max_size_mb must be at least 1")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("BLOB_DRIVER"); v != "" {
		cfg.Blob.Driver = v
	}

	if v := os.Getenv("BLOB_FS_ROOT"); v != "" {
		cfg.Blob.FS.Root = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Blob.S3.Bucket = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Blob.S3.Endpoint = v
		cfg.Blob.S3.UsePathStyle = true
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Blob.S3.Region = v
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Blob.S3.AccessKeyID = v
	}

	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Blob.S3.SecretAccessKey = v
	}

	if v := os.Getenv("VISION_DRIVER"); v != "" {
		cfg.Vision.Driver = v
	}

	if v := os.Getenv("MODEL_API_URL"); v != "" {
		cfg.Vision.Endpoint = v
	}

	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Vision.Model = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}

	if v := os.Getenv("VISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vision.Timeout = d
		}
	}

	if v := os.Getenv("DIAGNOSTIC_PROMPT_PATH"); v != "" {
		cfg.Vision.PromptPath = v
	}

	if v := os.Getenv("RENDER_ALLOW_PARTIAL_PAGES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Renderer.AllowPartialPages = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
