package domain

import "time"

const (
	backoffBase = time.Minute
	backoffCap  = time.Hour
)

// RetryDelay returns how long a job waits before its next run after the
// given attempt failed. Doubles per attempt, capped at one hour:
// attempt 1 -> 1m, 2 -> 2m, 3 -> 4m, ... >=7 -> 1h.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := uint(attempt - 1)
	if shift > 6 {
		return backoffCap
	}
	d := backoffBase << shift
	if d > backoffCap {
		return backoffCap
	}
	return d
}
