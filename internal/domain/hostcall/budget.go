package hostcall

import (
	"sync"
	"time"
)

// Budget is the remaining hostcall time of one extension session. It only
// ever decreases and is clamped at zero.
type Budget struct {
	mu        sync.Mutex
	total     time.Duration
	remaining time.Duration
}

// NewBudget creates a budget with the given total.
func NewBudget(total time.Duration) *Budget {
	if total < 0 {
		total = 0
	}
	return &Budget{total: total, remaining: total}
}

// Total returns the initial allowance.
func (b *Budget) Total() time.Duration {
	return b.total
}

// Remaining returns the time left.
func (b *Budget) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Exhausted reports whether no time is left.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Effective returns the smallest positive limit among the remaining budget
// and the given per-call limits. Non-positive limits are ignored.
func (b *Budget) Effective(limits ...time.Duration) time.Duration {
	eff := b.Remaining()
	for _, l := range limits {
		if l > 0 && l < eff {
			eff = l
		}
	}
	return eff
}

// Charge deducts elapsed time and returns what is left. Negative durations
// are ignored so the budget stays monotonic.
func (b *Budget) Charge(elapsed time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed > 0 {
		b.remaining -= elapsed
		if b.remaining < 0 {
			b.remaining = 0
		}
	}
	return b.remaining
}
