package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor("test")

	m.IncSends("role", true)
	m.IncSends("role", false)
	m.IncSends("role", false)
	m.IncEvictions("liveness")
	m.SetConnectedDevices(4)

	if got := testutil.ToFloat64(m.metrics.Sends.WithLabelValues("role", "failed")); got != 2 {
		t.Errorf("Expected 2 failed role sends, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.Evictions.WithLabelValues("liveness")); got != 1 {
		t.Errorf("Expected 1 liveness eviction, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.ConnectedDevices); got != 4 {
		t.Errorf("Expected 4 connected devices, got %v", got)
	}
}

func TestMonitor_IndependentRegistries(t *testing.T) {
	// Registering twice on the default registry would panic.
	a := NewMonitor("dup")
	b := NewMonitor("dup")
	a.IncMessagesReceived("pick")
	b.ObserveAckLatency(5 * time.Millisecond)
}

func TestMonitor_NilSafe(t *testing.T) {
	var m *Monitor
	m.IncSends("clear", true)
	m.SetRound(3)
	m.IncBarrierTimeouts("wheel")
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("expo")
	m.SetRound(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "expo_round 2") {
		t.Errorf("Expected round gauge in exposition, got:\n%s", rec.Body.String())
	}
}
