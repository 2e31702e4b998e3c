package engine

import (
	"time"

	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
)

// barrier waits for a single completion signal from one device. It never
// blocks the loop: phases poll barrierDone on every tick.
type barrier struct {
	name     string
	waitFor  network.DeviceID
	armed    time.Time
	deadline time.Time
	released bool
}

// startWheel sends a wheel animation to the console and arms a barrier on
// its "done" reply. If the console cannot be reached there is nothing to
// wait for.
func (e *Engine) startWheel(name string, cmd network.Command) {
	now := e.clock.Now()
	e.barrier = &barrier{
		name:     name,
		waitFor:  network.ConsoleID,
		armed:    now,
		deadline: now.Add(e.cfg.WheelTimeout),
	}
	if err := e.sendConsole(cmd); err != nil {
		logger.Log.Warnf("round %d: %s not shown: %v", e.round.Index, name, err)
		e.barrier = nil
	}
}

// release marks the barrier done unless the signal was received before it was
// armed, which is a late reply to an earlier wheel.
func (b *barrier) release(msg network.Message) bool {
	if msg.From != b.waitFor {
		return false
	}
	if !msg.Received.IsZero() && msg.Received.Before(b.armed) {
		return false
	}
	b.released = true
	return true
}

// barrierDone reports whether the pending barrier, if any, has been
// released or has timed out. A timeout is logged and the game goes on.
func (e *Engine) barrierDone() bool {
	b := e.barrier
	if b == nil {
		return true
	}
	if b.released {
		e.barrier = nil
		return true
	}
	if e.clock.Now().Before(b.deadline) {
		return false
	}
	logger.Log.Warnf("round %d: %s barrier timed out after %s, continuing", e.round.Index, b.name, e.cfg.WheelTimeout)
	e.monitor.IncBarrierTimeouts(b.name)
	e.barrier = nil
	return true
}
