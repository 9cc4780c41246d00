package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/provider"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Transcriber turns an audio file into text
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Client performs speech-to-text requests against an OpenAI-compatible API
type Client struct {
	client openai.Client
	cfg    config.ProviderConfig
}

// New creates a transcription client from the provider configuration
func New(cfg config.ProviderConfig, opts ...option.RequestOption) (*Client, error) {
	client, err := provider.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, cfg: cfg}, nil
}

// Transcribe uploads the file and returns the recognised text, retrying
// transient failures. An empty result means no speech was detected.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cannot read audio file: %w", err)
	}

	start := time.Now()
	var text string
	err := provider.Do(ctx, c.cfg, "transcription", func(ctx context.Context) error {
		var err error
		text, err = c.upload(ctx, path)
		return err
	})
	if err != nil {
		return "", err
	}

	slog.Debug("Transcription completed",
		"model", c.cfg.TranscriptionModel,
		"duration", time.Since(start).Round(time.Millisecond),
		"chars", len(text))
	return text, nil
}

func (c *Client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(c.cfg.TranscriptionModel),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if c.cfg.Language != "" {
		params.Language = openai.String(c.cfg.Language)
	}
	if c.cfg.Prompt != "" {
		params.Prompt = openai.String(c.cfg.Prompt)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
