package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultDBPath   = "transitstats.db"
	defaultLogLevel = "info"
)

var openDataExtensions = []string{".csv", ".geojson", ".json"}

// Load reads the YAML file at path (skipped when path is empty), applies environment overrides
// and validates the result. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.DBPath = getEnv("TRANSITSTATS_DB_PATH", cfg.DBPath)
	cfg.GTFSPath = getEnv("TRANSITSTATS_GTFS_PATH", cfg.GTFSPath)
	cfg.OpenData.Dir = getEnv("TRANSITSTATS_OPEN_DATA_DIR", cfg.OpenData.Dir)
	cfg.LogLevel = getEnv("TRANSITSTATS_LOG_LEVEL", cfg.LogLevel)

	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate resolves open-data files found in OpenData.Dir and checks the struct tags. Call it
// again after changing fields.
func (c *Config) Validate() error {
	if c.OpenData.Dir != "" {
		resolveOpenDataDir(&c.OpenData)
	}
	return validator.New().Struct(c)
}

func resolveOpenDataDir(o *OpenDataConfig) {
	for name, field := range o.fields() {
		if *field != "" {
			continue
		}
		for _, ext := range openDataExtensions {
			candidate := filepath.Join(o.Dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				*field = candidate
				break
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
