package fetch

import "time"

// Backoff is an explicit retry state machine: attempt count, next delay,
// terminal outcome. Delay before attempt n (n >= 2) is Base * 2^(n-2).
type Backoff struct {
	Base        time.Duration
	MaxAttempts int

	attempt int
}

// Next advances to the next attempt. It returns the delay to wait before
// that attempt and false once attempts are exhausted. The first attempt has
// zero delay.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	b.attempt++
	if b.attempt == 1 {
		return 0, true
	}
	return b.Base << (b.attempt - 2), true
}

// Attempt returns the number of attempts started so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}
