// Package retry computes the next-available delay for a failed
// subscription-message delivery.
package retry

import (
	"time"

	"github.com/coregx/broker/model"
)

// Delay returns how long a failed delivery should wait before it becomes
// available for reservation again, given the subscription's configured
// strategy and the attempt number that just failed.
//
// Linear delays by a constant retryDelayMs. Exponential delays by
// retryDelayMs * 2^(attempts-1), so the first failure waits retryDelayMs and
// each subsequent failure doubles the wait.
func Delay(strategy model.RetryStrategy, retryDelayMs int64, attempts int) time.Duration {
	base := time.Duration(retryDelayMs) * time.Millisecond
	if attempts <= 1 || strategy != model.ExponentialRetry {
		return base
	}
	return base << (attempts - 1)
}

// NextAvailableAt applies Delay to now and returns the resulting timestamp.
func NextAvailableAt(now time.Time, strategy model.RetryStrategy, retryDelayMs int64, attempts int) time.Time {
	return now.Add(Delay(strategy, retryDelayMs, attempts))
}

// Exhausted reports whether attempts, counting the attempt that just
// failed, has reached the subscription's max_attempts budget, meaning that
// failure is terminal.
func Exhausted(attempts, maxAttempts int) bool {
	return attempts >= maxAttempts
}
