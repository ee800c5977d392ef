// Package config loads rxdesk settings from defaults, a JSON file, a .env
// file and RXDESK_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Auth    AuthConfig
	Cache   CacheConfig
	Screens ScreensConfig
	Worker  WorkerConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	SuperAdminRole string
}

type CacheConfig struct {
	GCTime time.Duration
}

// ScreensConfig points at an optional screen table replacing the built-in one.
type ScreensConfig struct {
	File string
}

type WorkerConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Auth: AuthConfig{
			TokenTTL:       12 * time.Hour,
			SuperAdminRole: "admin",
		},
		Cache:  CacheConfig{GCTime: 5 * time.Minute},
		Worker: WorkerConfig{PollInterval: 500 * time.Millisecond},
	}
}

// Load reads configuration from the JSON file at ConfigFilePath, a .env
// file in the working directory, and environment variables.
//
// Values in .env never override variables already set in the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required config: JWT signing secret. " +
			"Set it via environment variable RXDESK_AUTH_JWT_SECRET or a .env file")
	}
	return cfg, nil
}
