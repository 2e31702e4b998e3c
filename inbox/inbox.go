// Package inbox holds the ordered log of inbound device messages. Every
// transport worker appends to it; the game loop drains it once per tick.
package inbox

import (
	"sync"

	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
)

const DefaultCapacity = 4096

type Log struct {
	mu       sync.Mutex
	items    []network.Message
	capacity int
	dropped  uint64
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		items:    make([]network.Message, 0, 64),
		capacity: capacity,
	}
}

// Append adds a message at the tail. When the log is full the oldest entry
// is discarded so a stalled reader cannot grow memory without bound.
func (l *Log) Append(msg network.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) >= l.capacity {
		l.items = l.items[1:]
		l.dropped++
		logger.Log.Warnf("inbox full, dropped oldest message (total dropped %d)", l.dropped)
	}
	l.items = append(l.items, msg)
}

// Drain returns everything appended so far, in arrival order, and empties
// the log.
func (l *Log) Drain() []network.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) == 0 {
		return nil
	}
	out := l.items
	l.items = make([]network.Message, 0, cap(out))
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
