package session

import (
	"context"
	"testing"
	"time"

	"github.com/wfunc/guessroulette/network"
)

func TestLiveness_SweepHonoursThreshold(t *testing.T) {
	registry, events, clock := newTestRegistry()
	live := NewLiveness(registry, clock, 4*time.Second, 15*time.Second)

	player, _, _ := newTestSession(2, clock)
	console, _, _ := newTestSession(network.ConsoleID, clock)
	registry.Register(player)
	registry.Register(console)
	events.Drain()

	clock.Advance(15 * time.Second)
	if evicted := live.Sweep(); len(evicted) != 0 {
		t.Fatalf("Nothing should be evicted exactly at the threshold, got %v", evicted)
	}

	clock.Advance(time.Millisecond)
	evicted := live.Sweep()
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Fatalf("Expected device 2 to be evicted, got %v", evicted)
	}
	if !registry.Contains(network.ConsoleID) {
		t.Error("The console must never be swept")
	}

	msgs := events.Drain()
	if len(msgs) != 1 || msgs[0].Kind != network.KindDisconnect || msgs[0].Text != ReasonLiveness {
		t.Errorf("Expected a liveness disconnect event, got %+v", msgs)
	}
}

func TestLiveness_TrafficKeepsSessionAlive(t *testing.T) {
	registry, _, clock := newTestRegistry()
	live := NewLiveness(registry, clock, 4*time.Second, 15*time.Second)

	sess, _, _ := newTestSession(3, clock)
	registry.Register(sess)

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		sess.HandleFrame([]byte("heartbeat"))
		if evicted := live.Sweep(); len(evicted) != 0 {
			t.Fatalf("Session with steady heartbeats was evicted at step %d", i)
		}
	}
}

func TestLiveness_RunSweepsOnTick(t *testing.T) {
	registry, _, clock := newTestRegistry()
	live := NewLiveness(registry, clock, 4*time.Second, 15*time.Second)

	sess, _, _ := newTestSession(4, clock)
	registry.Register(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- live.Run(ctx) }()

	waitForTimer(t, clock)
	clock.Advance(16 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for registry.Contains(4) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Contains(4) {
		t.Error("Run should evict the stale session on its next tick")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
