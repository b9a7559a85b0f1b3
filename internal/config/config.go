// Package config loads service configuration from an optional YAML file
// overlaid by environment variables. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Ingest    IngestConfig   `yaml:"ingest"`
	Export    ExportConfig   `yaml:"export"`
	Security  SecurityConfig `yaml:"security"`
	LogLevel  string         `yaml:"log_level"`
	SyncCron  string         `yaml:"sync_cron"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds Postgres connection configuration.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IngestConfig bounds the ingestion worker pool.
type IngestConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RateLimit    int           `yaml:"rate_limit"`
	RateWindow   time.Duration `yaml:"rate_window"`
}

// ExportConfig configures the S3 cost archive export.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// SecurityConfig holds secrets.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// Load builds the configuration: defaults, then the YAML file named by
// COSTLENS_CONFIG if set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("COSTLENS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Security.EncryptionKey == "" {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "costlens",
			SSLMode: "disable",
		},
		Ingest: IngestConfig{
			Workers:      3,
			QueueSize:    64,
			MaxAttempts:  3,
			RetryBackoff: 5 * time.Second,
			RateLimit:    10,
			RateWindow:   time.Minute,
		},
		Export: ExportConfig{
			Region: "us-east-1",
			Prefix: "cost-exports",
		},
		LogLevel: "info",
		SyncCron: "0 2 * * *",
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.RateLimit = getEnvInt("INGEST_RATE_LIMIT", cfg.Ingest.RateLimit)
	cfg.Export.Bucket = getEnv("EXPORT_BUCKET", cfg.Export.Bucket)
	cfg.Export.Region = getEnv("EXPORT_REGION", cfg.Export.Region)
	if cfg.Export.Bucket != "" {
		cfg.Export.Enabled = true
	}
	cfg.Security.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.Security.EncryptionKey)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SyncCron = getEnv("SYNC_CRON", cfg.SyncCron)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
