package queue

import "time"

const (
	BaseBackoff = 30 * time.Second
	MaxBackoff  = 30 * time.Minute
)

// Backoff is the delay before attempt+1 runs: 30s, 1m, 2m, ... capped at 30m.
func Backoff(attempt int) time.Duration {
	delay := BaseBackoff

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}

	return delay
}
