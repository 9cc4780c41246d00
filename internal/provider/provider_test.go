package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Name:        config.ProviderGroq,
		APIKey:      "test-key",
		BaseURL:     "http://127.0.0.1:1/",
		Timeout:     time.Second,
		MaxAttempts: 3,
		RetryDelay:  0,
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""

	_, err := NewClient(cfg)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	cfg.APIKey = "key"
	_, err = NewClient(cfg)
	assert.NoError(t, err)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testConfig(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("connection reset")
	calls := 0
	err := Do(context.Background(), testConfig(), "test", func(ctx context.Context) error {
		calls++
		return cause
	})

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, 3, re.MaxAttempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "exceeded max attempts (3/3)")
}

func TestDo_FixedDelayBetweenAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.RetryDelay = 20 * time.Millisecond

	var stamps []time.Time
	_ = Do(context.Background(), cfg, "test", func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("boom")
	})

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 20*time.Millisecond)
	}
}

func TestDo_SingleAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0

	calls := 0
	err := Do(context.Background(), cfg, "test", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, testConfig(), "test", func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	var re *RetryExhaustedError
	assert.False(t, errors.As(err, &re))
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(context.Canceled))
}
