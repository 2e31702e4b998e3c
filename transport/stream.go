// Package transport binds devices to sessions. Stream serves TCP and
// WebSocket byte streams; PubSub serves NATS subjects.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/session"
)

var ErrHandshake = errors.New("handshake failed")

type StreamOptions struct {
	Session          session.Options
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		Session:          session.DefaultOptions(),
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Stream accepts one persistent connection per device. Every connection
// gets its own reader goroutine that feeds the session.
type Stream struct {
	registry *session.Registry
	sink     session.Sink
	clock    clockwork.Clock
	opts     StreamOptions
	codec    network.TextCodec
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

func NewStream(registry *session.Registry, sink session.Sink, clock clockwork.Clock, opts StreamOptions) *Stream {
	return &Stream{
		registry: registry,
		sink:     sink,
		clock:    clock,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  network.MaxFrameSize,
			WriteBufferSize: network.MaxFrameSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 设备不带 Origin
			},
		},
	}
}

// ListenAndServe accepts TCP devices on addr until ctx is cancelled.
func (s *Stream) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logger.Log.Infof("device stream listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then waits for
// the connection workers to exit.
func (s *Stream) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Log.Warnf("accept: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handle(ctx, network.NewLineConn(conn, s.opts.WriteTimeout))
		}()
	}
}

// ServeHTTP upgrades a request to a WebSocket device connection.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	s.Handle(r.Context(), network.NewWSConn(ws, s.opts.WriteTimeout))
}

// Handle runs one device connection to completion: handshake, then read
// frames until the connection fails or the session is replaced.
func (s *Stream) Handle(ctx context.Context, conn network.Conn) {
	sess, err := s.handshake(conn)
	if err != nil {
		logger.Log.Warnf("device at %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if s.registry.Evict(sess, session.ReasonClosed) {
				logger.Log.Infof("device %d connection closed: %v", sess.ID, err)
			}
			sess.Close()
			return
		}
		sess.HandleFrame(frame)
	}
}

// handshake waits for "id:N", answers "ok" and registers the session.
func (s *Stream) handshake(conn network.Conn) (*session.Session, error) {
	if s.opts.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
			return nil, err
		}
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	msg, err := s.codec.Decode(frame)
	if err != nil || msg.Kind != network.KindID {
		return nil, fmt.Errorf("%w: first frame %q is not an id", ErrHandshake, frame)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	ok, _ := s.codec.Encode(network.Simple(network.KindOK))
	if err := conn.WriteFrame(ok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	sess := session.NewSession(msg.From, conn, s.codec, s.sink, s.clock, s.opts.Session)
	sess.Addr = conn.RemoteAddr().String()
	s.registry.Register(sess)
	logger.Log.Infof("device %d connected from %s", msg.From, sess.Addr)
	return sess, nil
}
