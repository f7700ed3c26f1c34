package core

import (
	"fmt"
	"math"
	"time"
)

// ExponentialBackoff yields Initial*2^(attempt-1) capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	base := float64(initial)
	multiplier := math.Pow(2, float64(attempt-1))
	next := time.Duration(base * multiplier)
	if b.Max <= 0 {
		if next < 0 {
			return initial
		}
		return next
	}
	if next < 0 || next > b.Max {
		return b.Max
	}
	return next
}

// JoinErrors keeps the first error wrapped and appends the next as text.
func JoinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
