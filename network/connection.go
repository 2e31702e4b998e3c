// network/connection.go
package network

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxFrameSize bounds a single inbound frame. Device frames are a few bytes.
const MaxFrameSize = 1024

var ErrFrameTooLarge = errors.New("frame too large")

// Conn is one persistent bidirectional byte stream to a device. Writes are
// safe for concurrent use; reads must come from a single goroutine.
type Conn interface {
	WriteFrame(data []byte) error
	ReadFrame() ([]byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// LineConn frames messages as newline-terminated lines over a raw TCP
// connection.
type LineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	sendMutex    sync.Mutex
	writeTimeout time.Duration
}

func NewLineConn(conn net.Conn, writeTimeout time.Duration) *LineConn {
	return &LineConn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, MaxFrameSize),
		writeTimeout: writeTimeout,
	}
}

func (c *LineConn) WriteFrame(data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	packet := make([]byte, 0, len(data)+1)
	packet = append(packet, data...)
	packet = append(packet, '\n')
	_, err := c.conn.Write(packet)
	return err
}

func (c *LineConn) ReadFrame() ([]byte, error) {
	for {
		line, err := c.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrFrameTooLarge
		}
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
}

func (c *LineConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *LineConn) Close() error {
	return c.conn.Close()
}

func (c *LineConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// WSConn carries one text frame per WebSocket message.
type WSConn struct {
	conn         *websocket.Conn
	sendMutex    sync.Mutex
	writeTimeout time.Duration
}

func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	conn.SetReadLimit(MaxFrameSize)
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *WSConn) WriteFrame(data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) ReadFrame() ([]byte, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		data = bytes.TrimSpace(data)
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}

func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
