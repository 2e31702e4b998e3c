// Command client simulates one device over the stream binding. Lines typed
// on stdin are sent as-is ("pick:42", "guess+1:40"); with --auto it plays
// whatever role it is given.
package main

import (
	"bufio"
	"context"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
)

type device struct {
	id   int
	auto bool
	conn network.Conn
}

func main() {
	addr := pflag.String("addr", "localhost:8080", "coordinator stream address")
	wsURL := pflag.String("ws", "", "connect over WebSocket instead, e.g. ws://localhost:8000/devices/ws")
	id := pflag.Int("id", 1, "device id (0 is the console)")
	auto := pflag.Bool("auto", false, "answer every role automatically")
	heartbeat := pflag.Duration("heartbeat", 4*time.Second, "heartbeat interval")
	pflag.Parse()

	logger.Init("debug", true)
	defer logger.Sync()

	conn, err := dial(*addr, *wsURL)
	if err != nil {
		logger.Log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	d := &device{id: *id, auto: *auto, conn: conn}
	d.send("id:" + strconv.Itoa(d.id))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go d.readLoop(stop)
	go d.heartbeat(ctx, *heartbeat)
	go d.stdin()

	<-ctx.Done()
	logger.Log.Info("closing connection")
}

func dial(addr, wsURL string) (network.Conn, error) {
	if wsURL != "" {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, err
		}
		logger.Log.Infof("connecting to %s", u)
		ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return nil, err
		}
		return network.NewWSConn(ws, 5*time.Second), nil
	}
	logger.Log.Infof("connecting to %s", addr)
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return network.NewLineConn(c, 5*time.Second), nil
}

func (d *device) send(frame string) {
	if err := d.conn.WriteFrame([]byte(frame)); err != nil {
		logger.Log.Errorf("write %q: %v", frame, err)
		return
	}
	logger.Log.Debugf("-> %s", frame)
}

func (d *device) heartbeat(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.send("heartbeat")
		}
	}
}

func (d *device) stdin() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			d.send(line)
		}
	}
}

func (d *device) readLoop(stop func()) {
	defer stop()
	for {
		frame, err := d.conn.ReadFrame()
		if err != nil {
			logger.Log.Warnf("read: %v", err)
			return
		}
		text := string(frame)
		logger.Log.Infof("<- %s", text)
		if text == "ok" {
			continue
		}
		d.send("ok")
		if d.auto {
			d.react(text)
		}
	}
}

// react plays the simulated part for one coordinator command.
func (d *device) react(text string) {
	kind, arg, _ := strings.Cut(text, ":")
	switch network.Kind(kind) {
	case network.KindRole:
		role, slot, _ := strings.Cut(arg, "+")
		n := strconv.Itoa(rand.IntN(network.MaxValue + 1))
		switch role {
		case strconv.Itoa(int(network.RolePicker)):
			go d.later("pick:" + n)
		case strconv.Itoa(int(network.RoleGuesser)):
			go d.later("guess+" + slot + ":" + n)
		case strconv.Itoa(int(network.RoleBettor)):
			go d.later("bet+" + slot + ":" + n)
		}
	case network.KindLightWheel:
		if d.id == int(network.ConsoleID) && arg != "off" {
			go d.later("light_wheel:" + network.WheelDone)
		}
	case network.KindOff, network.KindExit:
		logger.Log.Info("powered down by coordinator")
	}
}

func (d *device) later(frame string) {
	time.Sleep(time.Duration(500+rand.IntN(1000)) * time.Millisecond)
	d.send(frame)
}
