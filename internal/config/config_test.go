package config

import (
	"os"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, nil
	}
	return s, true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, false, nil
	}
	return i, true, nil
}

func (b *mapBackend) SetString(key, val string) error { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}
func (b *mapBackend) Delete(key string) error { delete(b.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
			os.Unsetenv(s.env)
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", cfg.Server.Port)
	}
	if cfg.Embedding.BaseURL != "http://localhost:11434" {
		t.Errorf("Embedding.BaseURL = %q", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Matching.Threshold != 0.55 {
		t.Errorf("Matching.Threshold = %v, want 0.55", cfg.Matching.Threshold)
	}
	if cfg.Matching.TopK != 5 {
		t.Errorf("Matching.TopK = %d, want 5", cfg.Matching.TopK)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("APIToken should default to empty, got %q", cfg.Server.APIToken)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)

	b := &mapBackend{data: map[string]any{
		"server.port":        9999,
		"embedding.model":    "mxbai-embed-large",
		"matching.threshold": "0.7",
	}}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "mxbai-embed-large" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Matching.Threshold != 0.7 {
		t.Errorf("Matching.Threshold = %v, want 0.7", cfg.Matching.Threshold)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGSCAN_SERVER_PORT", "5001")
	t.Setenv("REGSCAN_MATCHING_TOP_K", "8")

	b := &mapBackend{data: map[string]any{"server.port": 9999}}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5001 {
		t.Errorf("env should win over backend: port = %d, want 5001", cfg.Server.Port)
	}
	if cfg.Matching.TopK != 8 {
		t.Errorf("Matching.TopK = %d, want 8", cfg.Matching.TopK)
	}
}

func TestAPITokenFromKeychain(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{value: "kc-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "kc-token" {
		t.Errorf("APIToken = %q, want keychain value", cfg.Server.APIToken)
	}
}

func TestAPITokenEnvBeatsKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGSCAN_API_TOKEN", "env-token")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{value: "kc-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env value", cfg.Server.APIToken)
	}
}

func TestInvalidThresholdRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGSCAN_MATCHING_THRESHOLD", "1.5")

	if _, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{}); err == nil {
		t.Error("expected error for threshold out of range")
	}
}

func TestInvalidTopKRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGSCAN_MATCHING_TOP_K", "0")

	if _, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{}); err == nil {
		t.Error("expected error for top_k below 1")
	}
}

func TestShowAllExcludesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "secret-token"

	for _, info := range ShowAll(cfg) {
		if info.Key == "server.api_token" {
			t.Error("ShowAll should not expose secrets")
		}
		if info.Value == "secret-token" {
			t.Errorf("secret value leaked via key %s", info.Key)
		}
	}
}
