package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	configFile := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error for missing config file, got: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Expected 1 channel, got: %d", cfg.Audio.Channels)
	}
	if cfg.Audio.ChunkSize != 1024 {
		t.Errorf("Expected chunk size 1024, got: %d", cfg.Audio.ChunkSize)
	}
	if cfg.Recording.MaxDuration != 0 {
		t.Errorf("Expected no max duration by default, got: %s", cfg.Recording.MaxDuration)
	}
	if cfg.Provider.Name != ProviderGroq {
		t.Errorf("Expected provider groq, got: %s", cfg.Provider.Name)
	}
	if cfg.Provider.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("Expected Groq base URL, got: %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", cfg.Provider.MaxAttempts)
	}
	if cfg.Provider.RetryDelay != time.Second {
		t.Errorf("Expected 1s retry delay, got: %s", cfg.Provider.RetryDelay)
	}
	if cfg.Provider.TranscriptionModel != "whisper-large-v3-turbo" {
		t.Errorf("Expected whisper-large-v3-turbo, got: %s", cfg.Provider.TranscriptionModel)
	}
	if cfg.HasAPIKey() {
		t.Error("Expected no API key")
	}
	if cfg.File != configFile {
		t.Errorf("Expected File %s, got: %s", configFile, cfg.File)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	configFile := createTempConfig(t, `
audio:
  backend: pipewire
  device: alsa_input.usb-mic
  sample_rate: 16000
recording:
  max_duration: 90s
  keep_clips: true
provider:
  name: openai
  api_key: sk-test-1234
  transcription_model: whisper-1
responder:
  enabled: true
service:
  workers: 4
`)

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Audio.Backend != "pipewire" {
		t.Errorf("Expected backend pipewire, got: %s", cfg.Audio.Backend)
	}
	if cfg.Audio.Device != "alsa_input.usb-mic" {
		t.Errorf("Expected device alsa_input.usb-mic, got: %s", cfg.Audio.Device)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got: %d", cfg.Audio.SampleRate)
	}
	// Keys absent from the file keep their defaults
	if cfg.Audio.ChunkSize != 1024 {
		t.Errorf("Expected default chunk size 1024, got: %d", cfg.Audio.ChunkSize)
	}
	if cfg.Recording.MaxDuration != 90*time.Second {
		t.Errorf("Expected max duration 90s, got: %s", cfg.Recording.MaxDuration)
	}
	if !cfg.Recording.KeepClips {
		t.Error("Expected keep_clips to be true")
	}
	if cfg.Provider.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("Expected OpenAI base URL, got: %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.APIKey != "sk-test-1234" {
		t.Errorf("Expected API key from file, got: %s", cfg.Provider.APIKey)
	}
	if !cfg.Responder.Enabled {
		t.Error("Expected responder to be enabled")
	}
	if cfg.Responder.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Expected default responder model, got: %s", cfg.Responder.Model)
	}
	if cfg.Service.Workers != 4 {
		t.Errorf("Expected 4 workers, got: %d", cfg.Service.Workers)
	}
}

func TestLoad_APIKeyFromProviderEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_from_env")
	configFile := createTempConfig(t, "provider:\n  name: groq\n")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Provider.APIKey != "gsk_from_env" {
		t.Errorf("Expected API key from GROQ_API_KEY, got: %s", cfg.Provider.APIKey)
	}
}

func TestLoad_FileKeyWinsOverProviderEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_from_env")
	configFile := createTempConfig(t, "provider:\n  api_key: gsk_from_file\n")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Provider.APIKey != "gsk_from_file" {
		t.Errorf("Expected API key from file, got: %s", cfg.Provider.APIKey)
	}
}

func TestLoad_PrefixedEnvOverride(t *testing.T) {
	t.Setenv("DICTATE_SERVICE_LISTEN", "127.0.0.1:9999")
	configFile := createTempConfig(t, "service:\n  listen: 127.0.0.1:7465\n")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Service.Listen != "127.0.0.1:9999" {
		t.Errorf("Expected listen address from DICTATE_SERVICE_LISTEN, got: %s", cfg.Service.Listen)
	}
}

func TestMaskedAPIKey(t *testing.T) {
	cfg := Default()

	cfg.Provider.APIKey = ""
	if got := cfg.MaskedAPIKey(); got != "" {
		t.Errorf("Expected empty mask for empty key, got: %s", got)
	}

	cfg.Provider.APIKey = "abc"
	if got := cfg.MaskedAPIKey(); got != "***" {
		t.Errorf("Expected fully masked short key, got: %s", got)
	}

	cfg.Provider.APIKey = "gsk_1234567890"
	got := cfg.MaskedAPIKey()
	if !strings.HasSuffix(got, "7890") || strings.Contains(got, "gsk_") {
		t.Errorf("Expected only the last 4 characters visible, got: %s", got)
	}
	if len(got) != len(cfg.Provider.APIKey) {
		t.Errorf("Expected mask length %d, got: %d", len(cfg.Provider.APIKey), len(got))
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/tmp/dictate", filepath.Join(homeDir, "tmp/dictate")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}
