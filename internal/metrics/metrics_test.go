package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	a := Init()
	b := Init()
	if a != b {
		t.Fatalf("expected Init to return the same instance")
	}
}

func TestCountersIncrement(t *testing.T) {
	m := Init()
	before := testutil.ToFloat64(m.eventsFound)
	m.EventsFound(3)
	m.EventsFound(0)
	if got := testutil.ToFloat64(m.eventsFound) - before; got != 3 {
		t.Fatalf("events delta = %v, want 3", got)
	}

	m.EndpointServed("ok")
	if got := testutil.ToFloat64(m.endpointServed.WithLabelValues("ok")); got < 1 {
		t.Fatalf("endpoint counter not incremented")
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.PrimarySuccess()
	m.PrimaryFailure()
	m.FallbackScan()
	m.WindowQueried()
	m.EventsFound(1)
	m.ScanError()
	m.StaleDiscarded()
	m.EndpointServed("error")
}
