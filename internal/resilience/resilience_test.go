package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls, retries int
	cfg := fastRetry(3)
	cfg.OnRetry = func(int, error) { retries++ }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return StatusError("hook", http.StatusServiceUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return StatusError("hook", http.StatusBadRequest)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrorPermanent, ClassifyError(err))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(4), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("boom"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastRetry(5), func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("boom"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Capped(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2})
	assert.Equal(t, time.Second, backoff(0, cfg))
	assert.Equal(t, 2*time.Second, backoff(1, cfg))
	assert.Equal(t, 3*time.Second, backoff(5, cfg))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("x"), 0), true},
		{"wrapped 429", StatusError("hook", 429), true},
		{"404", StatusError("hook", 404), false},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"plain", errors.New("bad payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := StatusError("hook", http.StatusNotFound)
	assert.Equal(t, "webhook hook responded 404", err.Error())
	assert.NotEmpty(t, eris.Unpack(err).ErrRoot.Stack, "status errors carry a stack trace")

	var te *TransientError
	require.True(t, errors.As(StatusError("hook", http.StatusBadGateway), &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.NotEmpty(t, eris.Unpack(te.Err).ErrRoot.Stack)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("hook", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitClosed, cb.State())
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("hook", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("still down") })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestDLQEntry(t *testing.T) {
	t.Parallel()

	e := DLQEntry{RetryCount: 2, MaxRetries: 3}
	assert.True(t, e.CanRetry())
	e.RetryCount = 3
	assert.False(t, e.CanRetry())

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), NextRetry(now, 0, time.Minute))
	assert.Equal(t, now.Add(4*time.Minute), NextRetry(now, 2, time.Minute))
	assert.Equal(t, now.Add(24*time.Hour), NextRetry(now, 40, time.Minute))
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	r := FromRetryConfig(config.RetryConfig{MaxAttempts: 4, InitialBackoff: 100, MaxBackoff: 2000, Multiplier: 3, JitterFraction: 0})
	assert.Equal(t, 4, r.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 2*time.Second, r.MaxBackoff)
	assert.Equal(t, 3.0, r.Multiplier)
	assert.Equal(t, 0.0, r.JitterFraction)

	c := FromCircuitConfig(config.CircuitConfig{})
	assert.Equal(t, DefaultCircuitBreakerConfig(), c)
}
