// session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
)

var (
	ErrNotConnected  = errors.New("session not connected")
	ErrAckTimeout    = errors.New("no acknowledgment")
	ErrUnknownDevice = errors.New("unknown device")
)

// Link is the outbound half of a device channel.
type Link interface {
	WriteFrame(data []byte) error
	Close() error
}

// Sink receives every non-control message a session accepts.
type Sink interface {
	Append(msg network.Message)
}

type SendOptions struct {
	ExpectAck bool
	Retries   int
	Timeout   time.Duration
}

type Options struct {
	AckTimeout time.Duration
	Retries    int
	// AutoAck answers every inbound frame with "ok". Byte-stream devices
	// block on that reply after each submission.
	AutoAck bool
	// AwaitReply decides, per command kind, whether ExpectAck waits for an
	// explicit "ok" from the device. Nil means always.
	AwaitReply func(network.Kind) bool
}

func DefaultOptions() Options {
	return Options{
		AckTimeout: 2 * time.Second,
		Retries:    3,
		AutoAck:    true,
	}
}

// Session is the coordinator's end of one device channel.
type Session struct {
	ID        network.DeviceID
	Token     string
	Addr      string
	CreatedAt time.Time

	link  Link
	codec network.Codec
	sink  Sink
	clock clockwork.Clock
	opts  Options

	sendMutex sync.Mutex
	acks      chan struct{}
	awaiting  atomic.Bool

	mutex     sync.RWMutex
	lastSeen  time.Time
	connected bool
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSession(id network.DeviceID, link Link, codec network.Codec, sink Sink, clock clockwork.Clock, opts Options) *Session {
	now := clock.Now()
	return &Session{
		ID:        id,
		Token:     uuid.New().String(),
		CreatedAt: now,
		link:      link,
		codec:     codec,
		sink:      sink,
		clock:     clock,
		opts:      opts,
		acks:      make(chan struct{}, 1),
		lastSeen:  now,
		connected: true,
		closed:    make(chan struct{}),
	}
}

// Defaults returns send options carrying this session's configured retry
// policy with acknowledgment enabled.
func (s *Session) Defaults() SendOptions {
	return SendOptions{ExpectAck: true, Retries: s.opts.Retries, Timeout: s.opts.AckTimeout}
}

// Send writes cmd and, when an ack is expected, waits for it. The command
// is written at most Retries+1 times. Sends to one device are serialised:
// a second command is not written before the first is acked or abandoned.
func (s *Session) Send(ctx context.Context, cmd network.Command, opts SendOptions) error {
	frame, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.opts.AckTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	wait := opts.ExpectAck && (s.opts.AwaitReply == nil || s.opts.AwaitReply(cmd.Kind))

	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()

	if wait {
		s.drainAcks()
		s.awaiting.Store(true)
		defer s.awaiting.Store(false)
	}

	lastErr := ErrAckTimeout
	attempts := opts.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if !s.Connected() {
			return ErrNotConnected
		}
		if err := s.link.WriteFrame(frame); err != nil {
			logger.Log.Debugf("device %d: write %q attempt %d failed: %v", s.ID, frame, attempt, err)
			lastErr = err
			continue
		}
		if !wait {
			return nil
		}

		timer := s.clock.NewTimer(opts.Timeout)
		select {
		case <-s.acks:
			timer.Stop()
			s.Touch()
			return nil
		case <-timer.Chan():
			lastErr = ErrAckTimeout
			logger.Log.Debugf("device %d: no ack for %q on attempt %d", s.ID, frame, attempt)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.closed:
			timer.Stop()
			return ErrNotConnected
		}
	}
	return fmt.Errorf("send %q to device %d after %d attempts: %w", frame, s.ID, attempts, lastErr)
}

func (s *Session) drainAcks() {
	select {
	case <-s.acks:
	default:
	}
}

// HandleFrame decodes a raw inbound frame and processes it.
func (s *Session) HandleFrame(frame []byte) {
	msg, err := s.codec.Decode(frame)
	if err != nil {
		s.Touch()
		logger.Log.Warnf("device %d sent an invalid frame %q: %v", s.ID, frame, err)
		s.replyOK()
		return
	}
	s.Deliver(msg)
}

// Deliver processes an already decoded message: acks resolve a pending
// Send, heartbeats only refresh liveness, everything else is acknowledged
// and forwarded to the sink.
func (s *Session) Deliver(msg network.Message) {
	s.Touch()
	msg.From = s.ID
	msg.Received = s.clock.Now()

	if msg.Kind == network.KindOK {
		if s.awaiting.Load() {
			select {
			case s.acks <- struct{}{}:
			default:
			}
		}
		return
	}

	s.replyOK()
	if msg.IsControl() || msg.Kind == network.KindID {
		return
	}
	s.sink.Append(msg)
}

func (s *Session) replyOK() {
	if !s.opts.AutoAck || !s.Connected() {
		return
	}
	frame, err := s.codec.Encode(network.Simple(network.KindOK))
	if err != nil {
		return
	}
	if err := s.link.WriteFrame(frame); err != nil {
		logger.Log.Debugf("device %d: ack reply failed: %v", s.ID, err)
	}
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastSeen = s.clock.Now()
	s.mutex.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastSeen
}

func (s *Session) Connected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.connected
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Close marks the session disconnected and closes its link. Safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		s.connected = false
		s.mutex.Unlock()
		close(s.closed)
		err = s.link.Close()
	})
	return err
}
