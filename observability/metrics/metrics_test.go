package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"claimbridge/core/events"
)

func TestRPCObserve(t *testing.T) {
	m := RPC()
	before := testutil.ToFloat64(m.errors.WithLabelValues("claims_submit", "already_used"))
	m.Observe("claims_submit", "already_used", time.Millisecond)
	m.Observe("claims_submit", "ok", time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("claims_submit", "already_used")); got != before+1 {
		t.Fatalf("expected error counter to advance, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("claims_submit", "success")); got < 1 {
		t.Fatalf("expected success counter, got %v", got)
	}
}

func TestEventCounter(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTierAdded))
	events.Multi{m, nil}.Emit(events.TierAdded{Index: 12, Amount: 5})
	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTierAdded)); got != before+1 {
		t.Fatalf("expected tier counter to advance, got %v", got)
	}
}

func TestNilRegistriesAreSafe(t *testing.T) {
	var rpc *RPCMetrics
	rpc.Observe("x", "ok", 0)
	rpc.RecordThrottle("rate_limit")
	var relay *RelayMetrics
	relay.ObserveDelivery("delivered", 0)
	var ev *EventMetrics
	ev.Emit(nil)
}
