// Package config loads service configuration from platform-native
// storage with environment variable overrides.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Matching  MatchingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type MatchingConfig struct {
	Threshold float64
	TopK      int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Matching: MatchingConfig{
			Threshold: 0.55,
			TopK:      5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.regscan.app) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/regscan/config.json
// and secrets come from environment variables or the local secrets file.
//
// Environment variables (REGSCAN_*) override backend values on all platforms.
// An empty API token disables request authentication; it is not an error.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret retrieval for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		if token, err := kc.Get("regscan", "api_token"); err == nil && token != "" {
			cfg.Server.APIToken = token
		}
	}

	if cfg.Matching.Threshold < 0 || cfg.Matching.Threshold > 1 {
		return Config{}, fmt.Errorf("matching.threshold must be between 0 and 1, got %v", cfg.Matching.Threshold)
	}
	if cfg.Matching.TopK < 1 {
		return Config{}, fmt.Errorf("matching.top_k must be at least 1, got %d", cfg.Matching.TopK)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
