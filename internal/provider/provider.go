package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrMissingAPIKey is returned when no key is configured or found in the environment.
var ErrMissingAPIKey = errors.New("provider API key is not set")

// RetryExhaustedError reports the last failure after every attempt was used.
type RetryExhaustedError struct {
	Attempts    int
	MaxAttempts int
	Err         error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("exceeded max attempts (%d/%d): %v", e.Attempts, e.MaxAttempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NewClient creates an OpenAI-compatible client for the configured provider.
// The SDK's own retries are disabled; Do owns the retry policy.
func NewClient(cfg config.ProviderConfig, opts ...option.RequestOption) (openai.Client, error) {
	if cfg.APIKey == "" {
		return openai.Client{}, ErrMissingAPIKey
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(cfg.BaseURL))
	}
	clientOptions = append(clientOptions, opts...)

	return openai.NewClient(clientOptions...), nil
}

// Do runs op up to cfg.MaxAttempts times with a fixed cfg.RetryDelay between
// attempts. Client errors other than 408 and 429 are not retried.
func Do(ctx context.Context, cfg config.ProviderConfig, name string, op func(ctx context.Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	permanent := false
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), uint64(maxAttempts-1)),
		ctx)

	notify := func(err error, wait time.Duration) {
		slog.Warn("Provider request failed, retrying",
			"operation", name,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"retry_in", wait,
			"error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if permanent || ctx.Err() != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return &RetryExhaustedError{Attempts: attempts, MaxAttempts: maxAttempts, Err: err}
}

// IsRetryable reports whether a provider error may succeed on a later attempt
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return false
		}
	}
	return true
}
