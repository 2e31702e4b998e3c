package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/network"
	"go.uber.org/multierr"
)

// Eviction reasons, reported on the disconnect event and in metrics.
const (
	ReasonClosed     = "closed"
	ReasonReplaced   = "replaced"
	ReasonLiveness   = "liveness"
	ReasonSendFailed = "send_failed"
)

// Registry maps device ids to live sessions. At most one session exists per
// id; registering an id again replaces the previous session.
type Registry struct {
	sessions map[network.DeviceID]*Session
	mutex    sync.RWMutex
	events   Sink
	clock    clockwork.Clock
	monitor  *monitor.Monitor
}

// NewRegistry creates a registry that reports connect and disconnect events
// to events. The monitor may be nil.
func NewRegistry(events Sink, clock clockwork.Clock, m *monitor.Monitor) *Registry {
	return &Registry{
		sessions: make(map[network.DeviceID]*Session),
		events:   events,
		clock:    clock,
		monitor:  m,
	}
}

func (r *Registry) Register(s *Session) {
	r.mutex.Lock()
	old, replaced := r.sessions[s.ID]
	if replaced && old != s {
		if err := old.Close(); err != nil {
			logger.Log.Debugf("closing replaced session for device %d: %v", s.ID, err)
		}
		r.monitor.IncEvictions(ReasonReplaced)
	}
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mutex.Unlock()

	r.monitor.SetConnectedDevices(count)
	if replaced {
		logger.Log.Infof("device %d reconnected from %s", s.ID, s.Addr)
	} else {
		logger.Log.Infof("device %d registered from %s", s.ID, s.Addr)
	}
	r.emit(s.ID, network.KindConnect, "")
}

// Unregister removes and closes whatever session holds id. Calling it for
// an unknown id does nothing.
func (r *Registry) Unregister(id network.DeviceID) {
	r.mutex.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mutex.Unlock()

	if !ok {
		return
	}
	s.Close()
	r.monitor.SetConnectedDevices(count)
	logger.Log.Infof("device %d unregistered", id)
	r.emit(id, network.KindDisconnect, ReasonClosed)
}

// Evict removes s only if it is still the registered session for its id,
// so a stale reader cannot remove the connection that replaced it.
func (r *Registry) Evict(s *Session, reason string) bool {
	r.mutex.Lock()
	current, ok := r.sessions[s.ID]
	if !ok || current.Token != s.Token {
		r.mutex.Unlock()
		s.Close()
		return false
	}
	delete(r.sessions, s.ID)
	count := len(r.sessions)
	r.mutex.Unlock()

	s.Close()
	r.monitor.SetConnectedDevices(count)
	r.monitor.IncEvictions(reason)
	logger.Log.Warnf("device %d evicted: %s", s.ID, reason)
	r.emit(s.ID, network.KindDisconnect, reason)
	return true
}

func (r *Registry) Touch(id network.DeviceID) {
	if s, ok := r.Get(id); ok {
		s.Touch()
	}
}

func (r *Registry) Get(id network.DeviceID) (*Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Contains(id network.DeviceID) bool {
	_, ok := r.Get(id)
	return ok
}

// Snapshot returns the registered ids in ascending order.
func (r *Registry) Snapshot() []network.DeviceID {
	r.mutex.RLock()
	ids := make([]network.DeviceID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mutex.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sessions returns a copy of the live sessions.
func (r *Registry) Sessions() []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// Send delivers cmd to one device. A device that cannot be reached after
// all retries is evicted before the error is returned.
func (r *Registry) Send(ctx context.Context, id network.DeviceID, cmd network.Command, opts SendOptions) error {
	s, ok := r.Get(id)
	if !ok {
		r.monitor.IncSends(string(cmd.Kind), false)
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	start := r.clock.Now()
	err := s.Send(ctx, cmd, opts)
	r.monitor.IncSends(string(cmd.Kind), err == nil)
	if err == nil {
		if opts.ExpectAck {
			r.monitor.ObserveAckLatency(r.clock.Since(start))
		}
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	logger.Log.Warnf("send %s to device %d failed: %v", cmd, id, err)
	r.Evict(s, ReasonSendFailed)
	return err
}

// Close closes every session without emitting disconnect events.
func (r *Registry) Close() error {
	r.mutex.Lock()
	sessions := r.sessions
	r.sessions = make(map[network.DeviceID]*Session)
	r.mutex.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	r.monitor.SetConnectedDevices(0)
	return err
}

func (r *Registry) emit(id network.DeviceID, kind network.Kind, reason string) {
	if r.events == nil {
		return
	}
	r.events.Append(network.Message{
		From:     id,
		Kind:     kind,
		Text:     reason,
		Received: r.clock.Now(),
	})
}
