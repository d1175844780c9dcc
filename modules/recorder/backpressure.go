package recorder

import "time"

// BackoffConfig bounds the polling interval while waiting for encoder readiness
type BackoffConfig struct {
	InitialDelay time.Duration // first poll interval (default: 250µs)
	MaxDelay     time.Duration // poll interval cap (default: 8ms)
}

// DefaultBackoffConfig returns the default readiness polling schedule
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Microsecond,
		MaxDelay:     8 * time.Millisecond,
	}
}

// waitReady polls ready with exponential backoff until it reports true or
// budget elapses. It returns false when the budget is exhausted.
//
// This is the only blocking point of AppendFrame.
func waitReady(ready func() bool, budget time.Duration, cfg BackoffConfig) bool {
	if ready() {
		return true
	}

	deadline := time.Now().Add(budget)
	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		delay := calculateBackoff(attempt, cfg)
		if delay > remaining {
			delay = remaining
		}
		time.Sleep(delay)

		if ready() {
			return true
		}
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = initialDelay * 2^(attempt-1)
// Cap: min(delay, maxDelay)
//
// Example with default config (initialDelay=250µs, maxDelay=8ms):
//   - Attempt 1: 250µs
//   - Attempt 2: 500µs
//   - Attempt 3: 1ms
//   - Attempt 6+: 8ms
func calculateBackoff(attempt int, cfg BackoffConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxDelay
	}

	delay := cfg.InitialDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	return delay
}
