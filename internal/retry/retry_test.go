package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ retryable bool }

func (e statusErr) Error() string { return "status" }
func (e statusErr) IsRetryable() bool { return e.retryable }

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoIfRetryable_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoIfRetryable_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := statusErr{retryable: false}
	err := DoIfRetryable(context.Background(), fastConfig(5), func() error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoIfRetryable_ReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := DoIfRetryable(context.Background(), fastConfig(2), func() error {
		attempts++
		return fmt.Errorf("attempt %d: %w", attempts, statusErr{retryable: true})
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestDoIfRetryable_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	attempts := 0
	err := DoIfRetryable(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("i/o timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), false},
		{"retryable status", statusErr{retryable: true}, true},
		{"wrapped permanent status", fmt.Errorf("get: %w", statusErr{retryable: false}), false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connect: connection refused"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"plain", errors.New("invalid character '<' looking for beginning of value"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestApplyJitter_StaysInBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(time.Second, 0.1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, time.Second, applyJitter(time.Second, 0))
}
