package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_Matches(t *testing.T) {
	base := Subscription{
		ConsumptionMode: Parallel,
		StartPosition:   Earliest,
		MaxAttempts:     5,
		RetryStrategy:   ExponentialRetry,
		RetryDelayMs:    1000,
	}

	tests := []struct {
		name  string
		other Subscription
		want  bool
	}{
		{"identical config matches", base, true},
		{"different consumption mode conflicts", withMode(base, Sequential), false},
		{"different start position conflicts", withStart(base, Latest), false},
		{"different max attempts conflicts", withAttempts(base, 3), false},
		{"different retry strategy conflicts", withRetryStrategy(base, LinearRetry), false},
		{"different retry delay conflicts", withRetryDelay(base, 500), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Matches(tt.other))
		})
	}
}

func withMode(s Subscription, m ConsumptionMode) Subscription         { s.ConsumptionMode = m; return s }
func withStart(s Subscription, p StartPosition) Subscription          { s.StartPosition = p; return s }
func withAttempts(s Subscription, n int) Subscription                 { s.MaxAttempts = n; return s }
func withRetryStrategy(s Subscription, r RetryStrategy) Subscription  { s.RetryStrategy = r; return s }
func withRetryDelay(s Subscription, ms int64) Subscription            { s.RetryDelayMs = ms; return s }
