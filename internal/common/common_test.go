package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/iago/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = service.RetryOptions{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2,
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	}, fastRetry)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("bad request"), Retryable: false}
	}, fastRetry)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return errors.New("down")
	}, fastRetry)

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error { return errors.New("down") }, service.RetryOptions{
		MaxAttempts:  5,
		InitialDelay: time.Second,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegexCache(t *testing.T) {
	cache := NewRegexCache()

	re, err := cache.Compile(`(\d+)`)
	require.NoError(t, err)
	again, err := cache.Compile(`(\d+)`)
	require.NoError(t, err)
	assert.Same(t, re, again)

	_, err = cache.Compile(`(`)
	require.Error(t, err)
	_, err = cache.Compile(`(`)
	require.Error(t, err)
	assert.Equal(t, 2, cache.Len())
}

func TestRegexCache_Concurrent(t *testing.T) {
	cache := NewRegexCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Compile(`LOTE:\s*(\S+)`)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cache.Len())
}

func TestRegexCache_Retain(t *testing.T) {
	cache := NewRegexCache()
	for _, pattern := range []string{`LOTE:\s*(\d+)`, `QUADRA:\s*(\d+)`, `(`} {
		_, _ = cache.Compile(pattern)
	}

	dropped := cache.Retain(map[string]struct{}{`QUADRA:\s*(\d+)`: {}})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, cache.Len())

	assert.Zero(t, cache.Retain(map[string]struct{}{`QUADRA:\s*(\d+)`: {}}))
	assert.Equal(t, 1, cache.Retain(nil))
	assert.Zero(t, cache.Len())
}

func TestLockDeniedError(t *testing.T) {
	err := error(&LockDeniedError{RecordID: 7, LockedBy: "ana"})
	assert.ErrorIs(t, err, ErrLockDenied)
	assert.Contains(t, err.Error(), "ana")

	completed := &LockDeniedError{RecordID: 7, Completed: true}
	assert.Contains(t, completed.Error(), "completed")
}

func TestUserError(t *testing.T) {
	err := NewUserError("pick a role", ErrInvalidRole)
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, "pick a role: invalid role", err.Error())
	assert.Equal(t, "pick a role", NewUserError("pick a role", nil).Error())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "record_id", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"record_id":3`)

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseLevel("verbose")
	require.ErrorIs(t, err, ErrInvalidConfig)
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
