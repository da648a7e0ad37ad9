package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for MedVault.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port        int           `yaml:"port"`
	Environment string        `yaml:"environment"`
	JWTSecret   string        `yaml:"jwt_secret"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PrivacyConfig holds privacy transform configuration.
type PrivacyConfig struct {
	KeyPath string `yaml:"key_path"`
}

// RetentionConfig holds retention engine configuration.
type RetentionConfig struct {
	WarnThresholdDays int `yaml:"warn_threshold_days"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 3010),
			Environment: getEnv("ENVIRONMENT", "development"),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			SessionTTL:  getEnvDuration("SESSION_TTL", 8*time.Hour),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "medvault.db"),
		},
		Privacy: PrivacyConfig{
			KeyPath: getEnv("ENCRYPTION_KEY_PATH", "encryption.key"),
		},
		Retention: RetentionConfig{
			WarnThresholdDays: getEnvInt("RETENTION_WARN_DAYS", 30),
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3010
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = 8 * time.Hour
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "medvault.db"
	}
	if cfg.Privacy.KeyPath == "" {
		cfg.Privacy.KeyPath = "encryption.key"
	}
	if cfg.Retention.WarnThresholdDays == 0 {
		cfg.Retention.WarnThresholdDays = 30
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
