package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder replaces the real sleep and records requested waits.
type recorder struct{ waits []time.Duration }

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

var errBoom = errors.New("boom")

func TestDo_SucceedsFirstTry(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Second, Sleep: rec.sleep},
		func(context.Context, int) error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	rec := &recorder{}
	var attempts []int
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: 3 * time.Second, Sleep: rec.sleep},
		func(_ context.Context, attempt int) error {
			attempts = append(attempts, attempt)
			if attempt < 3 {
				return errBoom
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, rec.waits)
}

func TestDo_Exhausted(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, Delay: time.Millisecond, Sleep: rec.sleep},
		func(context.Context, int) error { calls++; return errBoom })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls)
	assert.Len(t, rec.waits, 3)
	assert.Contains(t, err.Error(), "gave up after 4 attempts")
}

func TestDo_UnboundedRunsUntilSuccess(t *testing.T) {
	rec := &recorder{}
	err := Do(context.Background(), Policy{Sleep: rec.sleep},
		func(_ context.Context, attempt int) error {
			if attempt < 50 {
				return errBoom
			}
			return nil
		})
	require.NoError(t, err)
	assert.Len(t, rec.waits, 49)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 10, Sleep: (&recorder{}).sleep},
		func(context.Context, int) error { calls++; return Permanent(errBoom) })
	assert.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestDo_NotRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	p := Policy{
		MaxAttempts: 10,
		Sleep:       (&recorder{}).sleep,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return fatal
		}
		return errBoom
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetry(t *testing.T) {
	type call struct {
		attempt int
		wait    time.Duration
	}
	var got []call
	p := Policy{
		MaxAttempts: 3,
		Delay:       time.Second,
		Multiplier:  2,
		Sleep:       (&recorder{}).sleep,
		OnRetry:     func(a int, _ error, w time.Duration) { got = append(got, call{a, w}) },
	}
	_ = Do(context.Background(), p, func(context.Context, int) error { return errBoom })
	assert.Equal(t, []call{{1, time.Second}, {2, 2 * time.Second}}, got)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Sleep: (&recorder{}).sleep}, func(context.Context, int) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		want []time.Duration
	}{
		{"fixed", Policy{Delay: 3 * time.Second}, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}},
		{"exponential", Policy{Delay: time.Second, Multiplier: 2}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"capped", Policy{Delay: time.Second, Multiplier: 3, MaxDelay: 5 * time.Second}, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}},
		{"delay above cap", Policy{Delay: 10 * time.Second, MaxDelay: 2 * time.Second}, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				assert.Equal(t, want, tt.p.Backoff(i+1))
			}
		})
	}
}

func TestBackoff_Saturates(t *testing.T) {
	p := Policy{Delay: time.Second, Multiplier: 2}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, maxWait, p.Backoff(35))
	assert.Equal(t, maxWait, p.Backoff(1000))

	capped := Policy{Delay: time.Second, Multiplier: 10, MaxDelay: time.Hour}
	assert.Equal(t, time.Hour, capped.Backoff(500))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{
		MaxAttempts: 5,
		Delay:       config.Duration(3 * time.Second),
		Multiplier:  1.5,
		MaxDelay:    config.Duration(10 * time.Second),
	})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 3*time.Second, p.Delay)
	assert.Equal(t, 1.5, p.Multiplier)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Nil(t, p.Sleep)
}
