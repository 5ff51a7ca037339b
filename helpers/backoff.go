package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/mtq-tester/helpers/atomic_clock"
)

// Backoff is limited exponential retry delay, safe for concurrent use.
// Zero delay until first Failure(); each Failure() multiplies next delay by K.
type Backoff struct {
	next int64 // atomic align
	last atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// DelayAfter records outcome of just finished attempt and returns pause before next one.
//
//	for {
//	  err := op()
//	  time.Sleep(backoff.DelayAfter(err == nil))
//	}
func (b *Backoff) DelayAfter(success bool) time.Duration {
	b.Update(success)
	if success {
		return 0
	}
	return b.DelayBefore()
}

// DelayBefore returns remaining pause since last failure.
func (b *Backoff) DelayBefore() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	delay := b.limit(next)
	since := atomic_clock.Since(&b.last)
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		next = b.Min
	} else {
		next = time.Duration(float32(next) * b.K)
	}
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(b.limit(next)))
}

func (b *Backoff) Reset() {
	b.last.SetNow()
	atomic.StoreInt64(&b.next, 0)
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

// Next is delay after last failure, regardless of time passed.
func (b *Backoff) Next() time.Duration { return time.Duration(atomic.LoadInt64(&b.next)) }

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
