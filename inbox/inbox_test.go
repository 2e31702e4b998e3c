package inbox

import (
	"sync"
	"testing"

	"github.com/wfunc/guessroulette/network"
)

func TestLog_DrainPreservesOrder(t *testing.T) {
	l := New(0)
	for i := 0; i < 5; i++ {
		l.Append(network.Message{From: network.DeviceID(i), Kind: network.KindPick, Value: i})
	}

	got := l.Drain()
	if len(got) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Value != i {
			t.Errorf("Message %d out of order: %+v", i, m)
		}
	}
	if l.Len() != 0 {
		t.Errorf("Expected log to be empty after Drain, got %d", l.Len())
	}
	if l.Drain() != nil {
		t.Error("Drain on an empty log should return nil")
	}
}

func TestLog_CapacityDropsOldest(t *testing.T) {
	l := New(2)
	l.Append(network.Message{Value: 1})
	l.Append(network.Message{Value: 2})
	l.Append(network.Message{Value: 3})

	got := l.Drain()
	if len(got) != 2 || got[0].Value != 2 || got[1].Value != 3 {
		t.Errorf("Expected [2 3], got %+v", got)
	}
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New(0)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Append(network.Message{From: network.DeviceID(id), Value: i})
			}
		}(w)
	}
	wg.Wait()

	got := l.Drain()
	if len(got) != 800 {
		t.Fatalf("Expected 800 messages, got %d", len(got))
	}

	// Per-sender order must survive interleaving.
	last := map[network.DeviceID]int{}
	for _, m := range got {
		if prev, ok := last[m.From]; ok && m.Value != prev+1 {
			t.Fatalf("sender %d out of order: %d after %d", m.From, m.Value, prev)
		}
		last[m.From] = m.Value
	}
}
