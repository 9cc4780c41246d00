package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_InvalidFields(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		expected string
	}{
		{"unknown backend", func(c *Config) { c.Audio.Backend = "jack" }, "audio.backend"},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }, "audio.channels"},
		{"zero chunk size", func(c *Config) { c.Audio.ChunkSize = 0 }, "audio.chunk_size"},
		{"negative max duration", func(c *Config) { c.Recording.MaxDuration = -time.Second }, "recording.max_duration"},
		{"unknown provider", func(c *Config) { c.Provider.Name = "acme" }, "provider.name"},
		{"zero attempts", func(c *Config) { c.Provider.MaxAttempts = 0 }, "provider.max_attempts"},
		{"negative retry delay", func(c *Config) { c.Provider.RetryDelay = -time.Second }, "provider.retry_delay"},
		{"zero timeout", func(c *Config) { c.Provider.Timeout = 0 }, "provider.timeout"},
		{"empty model", func(c *Config) { c.Provider.TranscriptionModel = "" }, "provider.transcription_model"},
		{"responder without model", func(c *Config) { c.Responder.Enabled = true; c.Responder.Model = "" }, "responder.model"},
		{"unknown inject mode", func(c *Config) { c.Inject.Mode = "dictate" }, "inject.mode"},
		{"negative paste delay", func(c *Config) { c.Inject.PasteDelay = -time.Millisecond }, "inject.paste_delay"},
		{"zero workers", func(c *Config) { c.Service.Workers = 0 }, "service.workers"},
		{"empty listen", func(c *Config) { c.Service.Listen = "" }, "service.listen"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", test.name)
			}
			if !strings.Contains(err.Error(), test.expected) {
				t.Errorf("Expected error mentioning '%s', got: %v", test.expected, err)
			}
		})
	}
}

func TestLoad_InvalidFileIsRejected(t *testing.T) {
	configFile := createTempConfig(t, "audio:\n  channels: 6\n")

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Expected error for invalid channel count")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected 'config validation failed' error, got: %v", err)
	}
}

func TestLoad_InjectModeIsNormalised(t *testing.T) {
	configFile := createTempConfig(t, "inject:\n  mode: ' Type '\n")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected config to load, got: %v", err)
	}
	if cfg.Inject.Mode != "type" {
		t.Errorf("Expected inject mode 'type', got: %q", cfg.Inject.Mode)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	configFile := createTempConfig(t, "audio: [unterminated\n")

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Expected 'error reading config file' error, got: %v", err)
	}
}

func TestStore_SaveAPIKeyCreatesFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "dictate.yaml")
	store := NewStore(configFile)

	if err := store.SaveAPIKey("gsk_saved", "groq"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("Expected config file to exist, got: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected permissions 0600, got: %v", info.Mode().Perm())
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected saved config to load, got: %v", err)
	}
	if cfg.Provider.APIKey != "gsk_saved" {
		t.Errorf("Expected saved API key, got: %s", cfg.Provider.APIKey)
	}
	if cfg.Provider.Name != ProviderGroq {
		t.Errorf("Expected provider groq, got: %s", cfg.Provider.Name)
	}
}

func TestStore_SaveAPIKeyRejectsInput(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "dictate.yaml"))

	if err := store.SaveAPIKey("   ", ""); err == nil {
		t.Error("Expected error for empty API key")
	}
	if err := store.SaveAPIKey("key", "acme"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestStore_SaveMaxDurationKeepsOtherKeys(t *testing.T) {
	configFile := createTempConfig(t, `
audio:
  device: my-mic
provider:
  api_key: gsk_keep
`)
	store := NewStore(configFile)

	if err := store.SaveMaxDuration(45 * time.Second); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected config to load, got: %v", err)
	}
	if cfg.Recording.MaxDuration != 45*time.Second {
		t.Errorf("Expected max duration 45s, got: %s", cfg.Recording.MaxDuration)
	}
	if cfg.Audio.Device != "my-mic" {
		t.Errorf("Expected device to be preserved, got: %s", cfg.Audio.Device)
	}
	if cfg.Provider.APIKey != "gsk_keep" {
		t.Errorf("Expected API key to be preserved, got: %s", cfg.Provider.APIKey)
	}

	if err := store.SaveMaxDuration(-time.Second); err == nil {
		t.Error("Expected error for negative max duration")
	}
}

func TestStore_WatchReloadsOnWrite(t *testing.T) {
	configFile := createTempConfig(t, "recording:\n  max_duration: 10s\n")
	store := NewStore(configFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 64)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := store.SaveMaxDuration(20 * time.Second); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// A rewrite may emit several events; wait for the one carrying the new value
	timeout := time.After(5 * time.Second)
	for seen := false; !seen; {
		select {
		case cfg := <-reloaded:
			seen = cfg.Recording.MaxDuration == 20*time.Second
		case <-timeout:
			t.Fatal("Timed out waiting for config reload with max duration 20s")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected Watch to return nil on cancel, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "dictate-test.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return configFile
}
