// Package shared holds the poll backoff used by the confirmation lookups.
package shared

import "time"

// Backoff returns the wait before poll attempt n (0-based): base doubled per
// attempt and capped at max. A non-positive max disables the cap.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if max > 0 && d >= max {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
