package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. DICTATE_PROVIDER_API_KEY.
const EnvPrefix = "DICTATE"

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Responder ResponderConfig `mapstructure:"responder" yaml:"responder"`
	Inject    InjectConfig    `mapstructure:"inject" yaml:"inject"`
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// File is the path the config was loaded from (may not exist yet).
	File string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // auto, portaudio, pipewire
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type RecordingConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	TempDir     string        `mapstructure:"temp_dir" yaml:"temp_dir"`
	KeepClips   bool          `mapstructure:"keep_clips" yaml:"keep_clips"`
}

type ProviderConfig struct {
	Name               string        `mapstructure:"name" yaml:"name"` // groq, openai
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	TranscriptionModel string        `mapstructure:"transcription_model" yaml:"transcription_model"`
	Language           string        `mapstructure:"language" yaml:"language"`
	Prompt             string        `mapstructure:"prompt" yaml:"prompt"`
}

type ResponderConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Model        string `mapstructure:"model" yaml:"model"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	UseSelection bool   `mapstructure:"use_selection" yaml:"use_selection"`
}

type InjectConfig struct {
	Mode             string        `mapstructure:"mode" yaml:"mode"` // paste, type
	Paste            bool          `mapstructure:"paste" yaml:"paste"`
	RestoreClipboard bool          `mapstructure:"restore_clipboard" yaml:"restore_clipboard"`
	PasteDelay       time.Duration `mapstructure:"paste_delay" yaml:"paste_delay"`
}

type ServiceConfig struct {
	Workers int    `mapstructure:"workers" yaml:"workers"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Provider presets
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

var providerBaseURLs = map[string]string{
	ProviderGroq:   "https://api.groq.com/openai/v1",
	ProviderOpenAI: "https://api.openai.com/v1",
}

var providerKeyEnv = map[string]string{
	ProviderGroq:   "GROQ_API_KEY",
	ProviderOpenAI: "OPENAI_API_KEY",
}

const defaultSystemPrompt = "You are a writing assistant. Follow the spoken instruction. " +
	"When context text is provided, apply the instruction to it. Reply with the resulting text only."

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:    "auto",
		Device:     "default",
		SampleRate: 44100,
		Channels:   1,
		ChunkSize:  1024,
	},
	Recording: RecordingConfig{
		MaxDuration: 0,
		TempDir:     "",
		KeepClips:   false,
	},
	Provider: ProviderConfig{
		Name:               ProviderGroq,
		Timeout:            30 * time.Second,
		MaxAttempts:        3,
		RetryDelay:         time.Second,
		TranscriptionModel: "whisper-large-v3-turbo",
		Language:           "en",
	},
	Responder: ResponderConfig{
		Enabled:      false,
		Model:        "llama-3.3-70b-versatile",
		SystemPrompt: defaultSystemPrompt,
		UseSelection: true,
	},
	Inject: InjectConfig{
		Mode:             "paste",
		Paste:            true,
		RestoreClipboard: true,
		PasteDelay:       100 * time.Millisecond,
	},
	Service: ServiceConfig{
		Workers: 2,
		Listen:  "127.0.0.1:7465",
	},
	Log: LogConfig{
		MaxSizeMB:  1,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	c := defaultConfig
	return &c
}

// DefaultFile returns $HOME/.config/dictate.yaml
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".config", "dictate.yaml")
}

// newViper creates a viper instance seeded with every default, so that
// AutomaticEnv can override keys missing from the file.
func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaultConfig
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.chunk_size", d.Audio.ChunkSize)

	v.SetDefault("recording.max_duration", d.Recording.MaxDuration)
	v.SetDefault("recording.temp_dir", d.Recording.TempDir)
	v.SetDefault("recording.keep_clips", d.Recording.KeepClips)

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.max_attempts", d.Provider.MaxAttempts)
	v.SetDefault("provider.retry_delay", d.Provider.RetryDelay)
	v.SetDefault("provider.transcription_model", d.Provider.TranscriptionModel)
	v.SetDefault("provider.language", d.Provider.Language)
	v.SetDefault("provider.prompt", d.Provider.Prompt)

	v.SetDefault("responder.enabled", d.Responder.Enabled)
	v.SetDefault("responder.model", d.Responder.Model)
	v.SetDefault("responder.system_prompt", d.Responder.SystemPrompt)
	v.SetDefault("responder.use_selection", d.Responder.UseSelection)

	v.SetDefault("inject.paste", d.Inject.Paste)
	v.SetDefault("inject.mode", d.Inject.Mode)
	v.SetDefault("inject.restore_clipboard", d.Inject.RestoreClipboard)
	v.SetDefault("inject.paste_delay", d.Inject.PasteDelay)

	v.SetDefault("service.workers", d.Service.Workers)
	v.SetDefault("service.listen", d.Service.Listen)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	return v
}

// Load reads configFile (DefaultFile when empty). A missing file is not an
// error: defaults and environment overrides apply.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultFile()
	}
	configFile = expandPath(configFile)

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	return unmarshal(v, configFile)
}

func unmarshal(v *viper.Viper, configFile string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.File = configFile
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolve fills provider-derived values and expands paths
func (c *Config) resolve() {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	c.Audio.Backend = strings.ToLower(strings.TrimSpace(c.Audio.Backend))
	c.Inject.Mode = strings.ToLower(strings.TrimSpace(c.Inject.Mode))

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = providerBaseURLs[c.Provider.Name]
	}
	if c.Provider.APIKey == "" {
		if env, ok := providerKeyEnv[c.Provider.Name]; ok {
			c.Provider.APIKey = os.Getenv(env)
		}
	}

	c.Recording.TempDir = expandPath(c.Recording.TempDir)
	c.Log.File = expandPath(c.Log.File)
}

// Validate checks every field and reports the first problem found
func (c *Config) Validate() error {
	switch c.Audio.Backend {
	case "", "auto", "portaudio", "pipewire":
	default:
		return fmt.Errorf("audio.backend: unknown backend '%s' (expected auto, portaudio or pipewire)", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate: must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels: must be 1 or 2, got: %d", c.Audio.Channels)
	}
	if c.Audio.ChunkSize <= 0 {
		return fmt.Errorf("audio.chunk_size: must be > 0, got: %d", c.Audio.ChunkSize)
	}

	if c.Recording.MaxDuration < 0 {
		return fmt.Errorf("recording.max_duration: must be >= 0, got: %s", c.Recording.MaxDuration)
	}

	if _, ok := providerBaseURLs[c.Provider.Name]; !ok {
		return fmt.Errorf("provider.name: unknown provider '%s' (expected groq or openai)", c.Provider.Name)
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("provider.max_attempts: must be >= 1, got: %d", c.Provider.MaxAttempts)
	}
	if c.Provider.RetryDelay < 0 {
		return fmt.Errorf("provider.retry_delay: must be >= 0, got: %s", c.Provider.RetryDelay)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout: must be > 0, got: %s", c.Provider.Timeout)
	}
	if c.Provider.TranscriptionModel == "" {
		return fmt.Errorf("provider.transcription_model: cannot be empty")
	}

	if c.Responder.Enabled && c.Responder.Model == "" {
		return fmt.Errorf("responder.model: cannot be empty when responder is enabled")
	}
	switch c.Inject.Mode {
	case "", "paste", "type":
	default:
		return fmt.Errorf("inject.mode: unknown mode '%s' (expected paste or type)", c.Inject.Mode)
	}
	if c.Inject.PasteDelay < 0 {
		return fmt.Errorf("inject.paste_delay: must be >= 0, got: %s", c.Inject.PasteDelay)
	}

	if c.Service.Workers < 1 {
		return fmt.Errorf("service.workers: must be >= 1, got: %d", c.Service.Workers)
	}
	if c.Service.Listen == "" {
		return fmt.Errorf("service.listen: cannot be empty")
	}
	return nil
}

// HasAPIKey reports whether a provider key is configured
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.Provider.APIKey) != ""
}

// MaskedAPIKey returns the key with everything but the last 4 characters hidden
func (c *Config) MaskedAPIKey() string {
	key := c.Provider.APIKey
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
