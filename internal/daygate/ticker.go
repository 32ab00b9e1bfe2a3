package daygate

import (
	"context"
	"time"
)

// DefaultInterval is the countdown refresh cadence.
const DefaultInterval = time.Second

// Ticker re-evaluates a last-action timestamp on a fixed cadence so the
// countdown flips to available at the UTC boundary without outside input.
type Ticker struct {
	Interval time.Duration
	Now      func() time.Time
}

// NewTicker returns a Ticker with the default cadence and wall clock.
func NewTicker() *Ticker {
	return &Ticker{Interval: DefaultInterval, Now: time.Now}
}

// Watch emits a Status immediately and then every Interval. A value received
// on updates replaces the timestamp, is evaluated at once, and restarts the
// cadence. The returned channel is closed after ctx is done or updates is
// closed.
func (t *Ticker) Watch(ctx context.Context, initial int64, updates <-chan int64) <-chan Status {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}

	out := make(chan Status)
	go func() {
		defer close(out)

		last := initial
		tk := time.NewTicker(interval)
		defer func() { tk.Stop() }()

		emit := func() bool {
			select {
			case out <- Evaluate(last, now()):
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ts, ok := <-updates:
				if !ok {
					return
				}
				last = ts
				tk.Stop()
				tk = time.NewTicker(interval)
				if !emit() {
					return
				}
			case <-tk.C:
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}
