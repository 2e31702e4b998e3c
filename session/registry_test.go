package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wfunc/guessroulette/inbox"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/network"
)

func newTestRegistry() (*Registry, *inbox.Log, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	events := inbox.New(0)
	return NewRegistry(events, clock, nil), events, clock
}

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	registry, events, clock := newTestRegistry()
	sess, _, _ := newTestSession(3, clock)

	registry.Register(sess)
	got, ok := registry.Get(3)
	if !ok || got != sess {
		t.Fatal("Get should return the registered session")
	}

	registry.Unregister(3)
	registry.Unregister(3)
	if registry.Contains(3) {
		t.Fatal("Unregister should remove the session")
	}
	if sess.Connected() {
		t.Error("Unregister should close the session")
	}

	msgs := events.Drain()
	if len(msgs) != 2 {
		t.Fatalf("Expected one connect and one disconnect event, got %+v", msgs)
	}
	if msgs[0].Kind != network.KindConnect || msgs[1].Kind != network.KindDisconnect {
		t.Errorf("Unexpected events %+v", msgs)
	}
}

func TestRegistry_LastWriterWins(t *testing.T) {
	registry, _, clock := newTestRegistry()
	first, firstLink, _ := newTestSession(4, clock)
	second, _, _ := newTestSession(4, clock)

	registry.Register(first)
	registry.Register(second)

	got, _ := registry.Get(4)
	if got != second {
		t.Fatal("Expected the newer session to replace the old one")
	}
	if first.Token == second.Token {
		t.Fatal("Expected each session to carry its own token")
	}
	if !firstLink.IsClosed() {
		t.Error("Expected the replaced session to be closed")
	}
	if registry.Len() != 1 {
		t.Errorf("Expected exactly one session for id 4, got %d", registry.Len())
	}

	// The stale reader exiting must not remove its replacement.
	if registry.Evict(first, ReasonClosed) {
		t.Error("Evict of a replaced session should report false")
	}
	if !registry.Contains(4) {
		t.Error("Replacement session was removed by the stale one")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	registry, _, clock := newTestRegistry()
	for _, id := range []network.DeviceID{5, 0, 2} {
		s, _, _ := newTestSession(id, clock)
		registry.Register(s)
	}

	ids := registry.Snapshot()
	want := []network.DeviceID{0, 2, 5}
	if len(ids) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, ids)
		}
	}
}

func TestRegistry_SendUnknownDevice(t *testing.T) {
	registry, _, _ := newTestRegistry()
	err := registry.Send(context.Background(), 9, network.Simple(network.KindWin), SendOptions{})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestRegistry_SendFailureEvicts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	events := inbox.New(0)
	m := monitor.NewMonitor("registry_test")
	registry := NewRegistry(events, clock, m)

	sess, link, _ := newTestSession(2, clock)
	link.failWrites = true
	registry.Register(sess)
	events.Drain()

	err := registry.Send(context.Background(), 2, network.HealthCommand(10), SendOptions{ExpectAck: true, Retries: 3})
	if err == nil {
		t.Fatal("Expected send to fail")
	}
	if registry.Contains(2) {
		t.Error("Expected the unreachable device to be evicted")
	}

	msgs := events.Drain()
	if len(msgs) != 1 || msgs[0].Kind != network.KindDisconnect || msgs[0].Text != ReasonSendFailed {
		t.Errorf("Expected a send_failed disconnect event, got %+v", msgs)
	}
	if got := testutil.ToFloat64(m.Metrics().Evictions.WithLabelValues(ReasonSendFailed)); got != 1 {
		t.Errorf("Expected 1 send_failed eviction, got %v", got)
	}
}

func TestRegistry_SendCanceledKeepsSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(inbox.New(0), clock, nil)
	sess, _, _ := newTestSession(2, clock)
	registry.Register(sess)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- registry.Send(ctx, 2, network.Simple(network.KindClear), SendOptions{ExpectAck: true, Timeout: time.Second})
	}()
	waitForTimer(t, clock)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !registry.Contains(2) {
		t.Error("A canceled send should not evict the device")
	}
}

func TestRegistry_Close(t *testing.T) {
	registry, _, clock := newTestRegistry()
	a, linkA, _ := newTestSession(1, clock)
	b, linkB, _ := newTestSession(2, clock)
	registry.Register(a)
	registry.Register(b)

	if err := registry.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !linkA.IsClosed() || !linkB.IsClosed() {
		t.Error("Close should close every link")
	}
	if registry.Len() != 0 {
		t.Errorf("Expected no sessions after Close, got %d", registry.Len())
	}
}
