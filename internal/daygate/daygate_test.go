package daygate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func TestAvailableUsesCalendarDays(t *testing.T) {
	last := mustTime(t, "2024-01-01T23:59:59Z").Unix()

	tests := []struct {
		name string
		now  string
		want bool
	}{
		{"same_instant", "2024-01-01T23:59:59Z", false},
		{"two_seconds_later_next_day", "2024-01-02T00:00:01Z", true},
		{"exact_midnight", "2024-01-02T00:00:00Z", true},
		{"earlier_same_day", "2024-01-01T00:00:00Z", false},
		{"days_later", "2024-03-05T10:00:00Z", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Available(last, mustTime(t, tt.now)); got != tt.want {
				t.Fatalf("Available = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeverActedIsAvailable(t *testing.T) {
	st := Evaluate(0, time.Unix(1704153599, 0))
	if !st.Available || !st.Remaining.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestNotRollingWindow(t *testing.T) {
	// 23h after an early-morning action is still the same UTC day.
	last := mustTime(t, "2024-01-01T00:30:00Z").Unix()
	now := mustTime(t, "2024-01-01T23:30:00Z")
	st := Evaluate(last, now)
	if st.Available {
		t.Fatalf("expected unavailable")
	}
	if st.Remaining != (Remaining{Hours: 0, Minutes: 30, Seconds: 0}) {
		t.Fatalf("remaining = %+v", st.Remaining)
	}
}

func TestCountdownFlipsAtMidnight(t *testing.T) {
	last := mustTime(t, "2024-01-01T12:00:00Z").Unix()
	midnight := mustTime(t, "2024-01-02T00:00:00Z")
	if NextMidnight(last) != midnight.Unix() {
		t.Fatalf("next midnight = %d, want %d", NextMidnight(last), midnight.Unix())
	}

	before := Evaluate(last, midnight.Add(-time.Second))
	if before.Available {
		t.Fatalf("expected unavailable one second before midnight")
	}
	if before.Remaining != (Remaining{Seconds: 1}) {
		t.Fatalf("remaining = %+v, want 1s", before.Remaining)
	}

	at := Evaluate(last, midnight)
	if !at.Available {
		t.Fatalf("expected available at midnight")
	}
	if !at.Remaining.IsZero() {
		t.Fatalf("remaining = %+v, want zero", at.Remaining)
	}
}

func TestRemainingDecomposition(t *testing.T) {
	last := mustTime(t, "2024-01-01T00:00:00Z").Unix()
	st := Evaluate(last, mustTime(t, "2024-01-01T02:14:55Z"))
	want := Remaining{Hours: 21, Minutes: 45, Seconds: 5}
	if st.Remaining != want {
		t.Fatalf("remaining = %+v, want %+v", st.Remaining, want)
	}
	if st.Remaining.Duration() != 21*time.Hour+45*time.Minute+5*time.Second {
		t.Fatalf("duration = %s", st.Remaining.Duration())
	}
	if got := st.Remaining.String(); got != "21:45:05" {
		t.Fatalf("string = %q", got)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestTickerSelfCorrectsAtBoundary(t *testing.T) {
	last := mustTime(t, "2024-01-01T12:00:00Z").Unix()
	midnight := mustTime(t, "2024-01-02T00:00:00Z")
	clock := &fakeClock{now: midnight.Add(-time.Second)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := &Ticker{Interval: 5 * time.Millisecond, Now: clock.Now}
	out := tk.Watch(ctx, last, nil)

	first := <-out
	if first.Available || first.Remaining != (Remaining{Seconds: 1}) {
		t.Fatalf("first status = %+v", first)
	}

	clock.Set(midnight)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-out:
			if st.Available {
				if !st.Remaining.IsZero() {
					t.Fatalf("available with remaining %+v", st.Remaining)
				}
				return
			}
		case <-deadline:
			t.Fatalf("ticker never flipped to available")
		}
	}
}

func TestTickerRecomputesOnUpdate(t *testing.T) {
	now := mustTime(t, "2024-01-01T18:00:00Z")
	clock := &fakeClock{now: now}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan int64)
	tk := &Ticker{Interval: time.Hour, Now: clock.Now}
	out := tk.Watch(ctx, 0, updates)

	if st := <-out; !st.Available {
		t.Fatalf("expected available before any action, got %+v", st)
	}

	updates <- now.Unix()
	select {
	case st := <-out:
		if st.Available {
			t.Fatalf("expected unavailable right after update")
		}
		if st.Remaining != (Remaining{Hours: 6}) {
			t.Fatalf("remaining = %+v", st.Remaining)
		}
	case <-time.After(time.Second):
		t.Fatalf("update not evaluated immediately")
	}
}

func TestTickerClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := &Ticker{Interval: time.Millisecond, Now: time.Now}
	out := tk.Watch(ctx, 0, nil)
	<-out
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel not closed after cancel")
		}
	}
}
