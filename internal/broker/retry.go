package broker

import (
	"log"
	"time"
)

const (
	// DefaultMaxAttempts bounds how many times a single broker call runs.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff for 5xx/network errors.
	DefaultBaseDelay = 1 * time.Second
	// DefaultRateLimitCooldown is Alpaca's rate-limit window. A 429 waits the
	// whole window instead of backing off exponentially.
	DefaultRateLimitCooldown = 60 * time.Second
)

// RetryPolicy wraps exactly one broker call with bounded retry.
//
// Non-retryable (re-raised immediately): 401 and any 4xx other than 429.
// Retryable: 429 waits RateLimitCooldown; 5xx and network errors wait
// BaseDelay * 2^attempt. Once MaxAttempts is exhausted the last error
// propagates to the caller unchanged.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	RateLimitCooldown time.Duration

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewRetryPolicy returns a policy with the default attempt and delay settings.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		RateLimitCooldown: DefaultRateLimitCooldown,
		sleep:             time.Sleep,
	}
}

// Do runs fn until it succeeds, fails fatally, or attempts run out.
// op names the call for logging only.
func (p *RetryPolicy) Do(op string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsUnauthorized(err) {
			log.Printf("CRITICAL: %s: authentication failed, not retrying. "+
				"Verify APCA_API_KEY_ID and APCA_API_SECRET_KEY. Error: %v", op, err)
			return err
		}
		if !Retryable(err) {
			log.Printf("ERROR: %s: client error (status %d), not retrying: %v", op, StatusOf(err), err)
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		var delay time.Duration
		if IsRateLimited(err) {
			delay = p.RateLimitCooldown
			log.Printf("WARNING: %s: rate limit hit (attempt %d/%d), waiting %s before retry",
				op, attempt+1, p.MaxAttempts, delay)
		} else {
			delay = p.BaseDelay * (1 << attempt)
			log.Printf("WARNING: %s: attempt %d/%d failed: %v. Retrying in %s",
				op, attempt+1, p.MaxAttempts, err, delay)
		}
		sleep(delay)
	}

	log.Printf("ERROR: %s: all %d attempts failed: %v", op, p.MaxAttempts, lastErr)
	return lastErr
}
