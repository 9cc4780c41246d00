package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/provider"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrEmptyResponse is returned when the model answers without content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Responder transforms a spoken instruction, optionally applied to context text
type Responder interface {
	Respond(ctx context.Context, instruction, selection string) (string, error)
}

// Client asks a chat model to carry out the dictated instruction
type Client struct {
	client   openai.Client
	provider config.ProviderConfig
	cfg      config.ResponderConfig
}

// New creates a chat client sharing the transcription provider's credentials
func New(providerCfg config.ProviderConfig, cfg config.ResponderConfig, opts ...option.RequestOption) (*Client, error) {
	client, err := provider.NewClient(providerCfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, provider: providerCfg, cfg: cfg}, nil
}

// Respond returns the model's answer to instruction
func (c *Client) Respond(ctx context.Context, instruction, selection string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", fmt.Errorf("instruction cannot be empty")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.cfg.SystemPrompt),
			openai.UserMessage(buildPrompt(instruction, selection)),
		},
	}

	var answer string
	err := provider.Do(ctx, c.provider, "response", func(ctx context.Context) error {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", ErrEmptyResponse
	}
	return answer, nil
}

// buildPrompt places the selected text after the instruction when present
func buildPrompt(instruction, selection string) string {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		return instruction
	}
	return fmt.Sprintf("Instruction: %s\n\nContext:\n%s", instruction, selection)
}
