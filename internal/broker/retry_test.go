package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() (*RetryPolicy, *[]time.Duration) {
	var slept []time.Duration
	p := NewRetryPolicy()
	p.sleep = func(d time.Duration) { slept = append(slept, d) }
	return p, &slept
}

func TestDo_RetriesServerErrorsThenSucceeds(t *testing.T) {
	p, slept := testPolicy()

	calls := 0
	err := p.Do("get_account", func() error {
		calls++
		if calls < 3 {
			return &APIError{Op: "get_account", StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Exponential backoff: 1s then 2s.
	require.Len(t, *slept, 2)
	assert.Equal(t, 1*time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestDo_AuthErrorFailsImmediately(t *testing.T) {
	p, slept := testPolicy()

	calls := 0
	authErr := &APIError{Op: "get_account", StatusCode: 401, Message: "unauthorized"}
	err := p.Do("get_account", func() error {
		calls++
		return authErr
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, authErr, err.(*APIError))
	assert.Empty(t, *slept)
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	p, slept := testPolicy()

	calls := 0
	err := p.Do("submit_order", func() error {
		calls++
		return &APIError{Op: "submit_order", StatusCode: 422, Message: "invalid qty"}
	})

	assert.Equal(t, 1, calls)
	assert.Error(t, err)
	assert.Empty(t, *slept)
}

func TestDo_RateLimitWaitsFullCooldown(t *testing.T) {
	p, slept := testPolicy()

	calls := 0
	err := p.Do("get_positions", func() error {
		calls++
		if calls == 1 {
			return &APIError{Op: "get_positions", StatusCode: 429, Message: "rate limited"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, *slept, 1)
	assert.Equal(t, DefaultRateLimitCooldown, (*slept)[0])
}

func TestDo_ExhaustedAttemptsReturnLastError(t *testing.T) {
	p, _ := testPolicy()

	calls := 0
	last := &APIError{Op: "get_order", StatusCode: 500, Message: "boom"}
	err := p.Do("get_order", func() error {
		calls++
		return last
	})

	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Same(t, last, err.(*APIError))
}

func TestDo_NetworkErrorsAreRetryable(t *testing.T) {
	p, _ := testPolicy()

	calls := 0
	err := p.Do("get_account", func() error {
		calls++
		if calls == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryable_Classification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"network", 0, true},
		{"rate limit", 429, true},
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"unauthorized", 401, false},
		{"forbidden", 403, false},
		{"not found", 404, false},
		{"validation", 422, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.status == 0 {
				err = errors.New("dial tcp: timeout")
			} else {
				err = &APIError{Op: "x", StatusCode: tc.status}
			}
			assert.Equal(t, tc.retryable, Retryable(err))
		})
	}
}
