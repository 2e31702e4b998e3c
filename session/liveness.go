package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
)

// Liveness periodically evicts sessions that have been silent for longer
// than the dead threshold. The console is never swept.
type Liveness struct {
	registry  *Registry
	clock     clockwork.Clock
	interval  time.Duration
	deadAfter time.Duration
}

func NewLiveness(registry *Registry, clock clockwork.Clock, interval, deadAfter time.Duration) *Liveness {
	return &Liveness{
		registry:  registry,
		clock:     clock,
		interval:  interval,
		deadAfter: deadAfter,
	}
}

func (l *Liveness) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	logger.Log.Infof("liveness sweep every %s, dead after %s", l.interval, l.deadAfter)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			l.Sweep()
		}
	}
}

// Sweep evicts every stale session and returns the evicted ids.
func (l *Liveness) Sweep() []network.DeviceID {
	now := l.clock.Now()
	var evicted []network.DeviceID
	for _, s := range l.registry.Sessions() {
		if s.ID == network.ConsoleID {
			continue
		}
		if now.Sub(s.LastSeen()) <= l.deadAfter {
			continue
		}
		if l.registry.Evict(s, ReasonLiveness) {
			evicted = append(evicted, s.ID)
		}
	}
	return evicted
}
