package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/session"
)

// Conn is the part of *nats.Conn the binding uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// DialNATS connects with reconnects enabled and connection events logged.
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("guess-roulette"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Log.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Log.Errorf("nats error: %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// PubSubOptions returns session options for subject-based devices. Only
// clear is answered with an explicit ok; every other command is
// fire-and-forget, and nothing inbound is acknowledged.
func PubSubOptions(base session.Options) session.Options {
	base.AutoAck = false
	base.AwaitReply = func(k network.Kind) bool { return k == network.KindClear }
	return base
}

// PubSub serves devices that publish JSON envelopes to "<prefix>.server"
// and receive commands on "<prefix>.client.<id>".
type PubSub struct {
	conn     Conn
	registry *session.Registry
	sink     session.Sink
	clock    clockwork.Clock
	prefix   string
	opts     session.Options
	codec    network.JSONCodec
}

func NewPubSub(conn Conn, registry *session.Registry, sink session.Sink, clock clockwork.Clock, prefix string, opts session.Options) *PubSub {
	return &PubSub{
		conn:     conn,
		registry: registry,
		sink:     sink,
		clock:    clock,
		prefix:   prefix,
		opts:     PubSubOptions(opts),
	}
}

func (p *PubSub) ServerSubject() string {
	return p.prefix + ".server"
}

func (p *PubSub) ClientSubject(id network.DeviceID) string {
	return p.prefix + ".client." + strconv.Itoa(int(id))
}

// Run subscribes and blocks until ctx is cancelled, then drains.
func (p *PubSub) Run(ctx context.Context) error {
	if _, err := p.conn.Subscribe(p.ServerSubject(), func(m *nats.Msg) {
		p.HandleFrame(m.Data)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.ServerSubject(), err)
	}
	logger.Log.Infof("device pub/sub listening on %s", p.ServerSubject())

	<-ctx.Done()
	if err := p.conn.Drain(); err != nil {
		logger.Log.Warnf("nats drain: %v", err)
	}
	return nil
}

// HandleFrame routes one inbound envelope. A device that talks without
// announcing itself first is registered on the spot.
func (p *PubSub) HandleFrame(frame []byte) {
	msg, err := p.codec.Decode(frame)
	if err != nil {
		logger.Log.Warnf("dropping frame on %s: %v", p.ServerSubject(), err)
		return
	}

	switch msg.Kind {
	case network.KindConnect:
		p.register(msg.From)
		return
	case network.KindDisconnect:
		if sess, ok := p.registry.Get(msg.From); ok {
			p.registry.Evict(sess, session.ReasonClosed)
			logger.Log.Infof("device %d left", msg.From)
		}
		return
	}

	sess, ok := p.registry.Get(msg.From)
	if !ok {
		sess = p.register(msg.From)
	}
	sess.Deliver(msg)
}

func (p *PubSub) register(id network.DeviceID) *session.Session {
	link := &subjectLink{conn: p.conn, subject: p.ClientSubject(id)}
	sess := session.NewSession(id, link, p.codec, p.sink, p.clock, p.opts)
	sess.Addr = link.subject
	p.registry.Register(sess)
	logger.Log.Infof("device %d announced on %s", id, p.ServerSubject())
	return sess
}

// subjectLink publishes a device's commands on its own subject.
type subjectLink struct {
	conn    Conn
	subject string
	closed  atomic.Bool
}

func (l *subjectLink) WriteFrame(data []byte) error {
	if l.closed.Load() {
		return session.ErrNotConnected
	}
	return l.conn.Publish(l.subject, data)
}

func (l *subjectLink) Close() error {
	l.closed.Store(true)
	return nil
}
