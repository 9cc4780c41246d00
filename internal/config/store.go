package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Store persists individual settings back to the config file
type Store struct {
	file string
}

// NewStore creates a store for configFile (DefaultFile when empty)
func NewStore(configFile string) *Store {
	if configFile == "" {
		configFile = DefaultFile()
	}
	return &Store{file: expandPath(configFile)}
}

// File returns the path of the backing config file
func (s *Store) File() string {
	return s.file
}

// SaveAPIKey stores the API key, and the provider when given
func (s *Store) SaveAPIKey(key, provider string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	values := map[string]any{"provider.api_key": key}
	if provider != "" {
		provider = strings.ToLower(provider)
		if _, ok := providerBaseURLs[provider]; !ok {
			return fmt.Errorf("unknown provider '%s' (expected groq or openai)", provider)
		}
		values["provider.name"] = provider
	}
	return s.update(values)
}

// SaveMaxDuration stores the auto-stop limit; 0 disables it
func (s *Store) SaveMaxDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("max duration must be >= 0, got: %s", d)
	}
	return s.update(map[string]any{"recording.max_duration": d.String()})
}

// update rewrites only the given keys, leaving the rest of the file as is
func (s *Store) update(values map[string]any) error {
	// Create a new viper instance to avoid interfering with loaded configs
	v := viper.New()
	v.SetConfigFile(s.file)
	v.SetConfigType("yaml")

	exists := true
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error reading config file %s: %w", s.file, err)
		}
		exists = false
	}

	for k, val := range values {
		v.Set(k, val)
	}

	if !exists {
		if err := os.MkdirAll(filepath.Dir(s.file), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := v.WriteConfigAs(s.file); err != nil {
			return fmt.Errorf("error writing config file %s: %w", s.file, err)
		}
	} else if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", s.file, err)
	}

	if err := os.Chmod(s.file, 0600); err != nil {
		slog.Warn("Failed to restrict config file permissions", "file", s.file, "error", err)
	}

	slog.Debug("Config updated", "file", s.file, "keys", len(values))
	return nil
}

// Watch reloads the config whenever the file changes and passes the result to
// fn. Invalid intermediate states are logged and skipped. Watch blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files instead of writing in place.
	dir := filepath.Dir(s.file)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.file)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(s.file)
			if err != nil {
				slog.Warn("Ignoring config change", "file", s.file, "error", err)
				continue
			}
			slog.Info("Config reloaded", "file", s.file)
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
