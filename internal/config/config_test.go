package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "inference", cfg.Vision.Driver)
	assert.Equal(t, "gemma3:27b", cfg.Vision.Model)
	assert.Equal(t, 300*time.Second, cfg.Vision.Timeout)
	assert.Equal(t, 300.0, cfg.Renderer.DPI)
	assert.False(t, cfg.Renderer.AllowPartialPages)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
}

func TestLoad_YAMLAndRelativePromptPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analyzer.yaml")
	yamlDoc := `
server:
  port: 9090
database:
  driver: postgres
  postgres:
    dsn: postgres://u:p@localhost:5432/bloodwork?sslmode=disable
blob:
  driver: s3
  s3:
    bucket: lab-uploads
    endpoint: http://localhost:9000
    use_path_style: true
vision:
  driver: openai
  endpoint: https://openrouter.ai/api/v1
  model: google/gemma-3-27b-it
  timeout: 90s
  prompt_path: prompts/diagnostic.txt
renderer:
  allow_partial_pages: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/bloodwork?sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "lab-uploads", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.UsePathStyle)
	assert.Equal(t, "openai", cfg.Vision.Driver)
	assert.Equal(t, 90*time.Second, cfg.Vision.Timeout)
	assert.Equal(t, filepath.Join(dir, "prompts/diagnostic.txt"), cfg.Vision.PromptPath)
	assert.True(t, cfg.Renderer.AllowPartialPages)
	// untouched sections keep their defaults
	assert.Equal(t, 300.0, cfg.Renderer.DPI)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DATABASE_URL", "sqlite:/var/lib/analyzer.db")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("MODEL_API_URL", "http://gpu-box:8001")
	t.Setenv("MODEL_NAME", "llava:34b")
	t.Setenv("VISION_TIMEOUT", "45s")
	t.Setenv("RENDER_ALLOW_PARTIAL_PAGES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/analyzer.db", cfg.DatabaseDSN())
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "http://gpu-box:8001", cfg.Vision.Endpoint)
	assert.Equal(t, "llava:34b", cfg.Vision.Model)
	assert.Equal(t, 45*time.Second, cfg.Vision.Timeout)
	assert.True(t, cfg.Renderer.AllowPartialPages)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad database", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "postgres dsn is required"},
		{"bad blob", func(c *Config) { c.Blob.Driver = "gcs" }, "invalid blob driver"},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }, "bucket is required"},
		{"bad cache", func(c *Config) { c.Cache.Driver = "memcached" }, "invalid cache driver"},
		{"bad vision", func(c *Config) { c.Vision.Driver = "grpc" }, "invalid vision driver"},
		{"no endpoint", func(c *Config) { c.Vision.Endpoint = "" }, "vision endpoint is required"},
		{"zero timeout", func(c *Config) { c.Vision.Timeout = 0 }, "timeout must be positive"},
		{"dpi too low", func(c *Config) { c.Renderer.DPI = 10 }, "dpi"},
		{"no render slots", func(c *Config) { c.Renderer.MaxConcurrent = 0 }, "max_concurrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
