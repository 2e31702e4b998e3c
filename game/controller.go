// Package game owns the enrollment window and the loop that drives the
// round engine.
package game

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/inbox"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/persistence"
	"github.com/wfunc/guessroulette/session"
)

// Status is the controller's lifecycle, separate from the engine's phase.
type Status int

const (
	StatusEnrolling Status = iota
	StatusPlaying
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusEnrolling:
		return "enrolling"
	case StatusPlaying:
		return "playing"
	case StatusFinished:
		return "finished"
	}
	return "unknown"
}

// Directory is the view of the device registry the controller needs.
type Directory interface {
	Snapshot() []network.DeviceID
	Contains(id network.DeviceID) bool
}

type Options struct {
	Tick     time.Duration
	Send     session.SendOptions
	Recorder persistence.Recorder
	Monitor  *monitor.Monitor
}

type Controller struct {
	engine   *engine.Engine
	messages *inbox.Log
	devices  Directory
	sender   broadcast.Sender
	clock    clockwork.Clock
	opts     Options

	startRequested atomic.Bool
	result         atomic.Pointer[engine.Result]
	status         Status
	statusMutex    sync.RWMutex
}

func NewController(eng *engine.Engine, messages *inbox.Log, devices Directory, sender broadcast.Sender, clock clockwork.Clock, opts Options) *Controller {
	if opts.Tick <= 0 {
		opts.Tick = 10 * time.Millisecond
	}
	if opts.Recorder == nil {
		opts.Recorder = persistence.NopRecorder{}
	}
	return &Controller{
		engine:   eng,
		messages: messages,
		devices:  devices,
		sender:   sender,
		clock:    clock,
		opts:     opts,
		status:   StatusEnrolling,
	}
}

// Start asks the controller to close enrollment on its next tick. It is the
// same signal as a "start" from the console.
func (c *Controller) Start() {
	c.startRequested.Store(true)
}

func (c *Controller) Status() Status {
	c.statusMutex.RLock()
	defer c.statusMutex.RUnlock()
	return c.status
}

func (c *Controller) setStatus(s Status) {
	c.statusMutex.Lock()
	defer c.statusMutex.Unlock()
	c.status = s
}

// Run ticks until the game is over or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	logger.Log.Infof("game %s enrolling, tick %s", c.engine.ID(), c.opts.Tick)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if c.Tick(ctx) {
				return nil
			}
		}
	}
}

// Tick drains the inbox, handles a pending start request and advances the
// engine once. It reports true when the game has finished.
func (c *Controller) Tick(ctx context.Context) bool {
	for _, msg := range c.messages.Drain() {
		c.dispatch(ctx, msg)
	}
	if c.startRequested.CompareAndSwap(true, false) {
		c.tryStart(ctx)
	}
	if c.Status() != StatusPlaying {
		return c.Status() == StatusFinished
	}

	c.engine.Step(ctx)
	if c.engine.WaitingForPlayers() {
		logger.Log.Warnf("not enough players left, enrollment reopened")
		c.setStatus(StatusEnrolling)
		return false
	}
	if c.engine.Done() {
		c.setStatus(StatusFinished)
		c.record(ctx)
		return true
	}
	return false
}

func (c *Controller) dispatch(ctx context.Context, msg network.Message) {
	c.opts.Monitor.IncMessagesReceived(string(msg.Kind))

	switch msg.Kind {
	case network.KindConnect:
		if msg.From == network.ConsoleID {
			return
		}
		if c.Status() != StatusEnrolling {
			logger.Log.Infof("device %d joined after enrollment closed, not playing", msg.From)
			return
		}
		if err := c.engine.AddPlayer(msg.From); err != nil {
			logger.Log.Warnf("cannot enroll device %d: %v", msg.From, err)
		}
		return

	case network.KindDisconnect:
		c.engine.Handle(ctx, msg)
		return

	case network.KindStart:
		if msg.From == network.ConsoleID {
			c.tryStart(ctx)
		} else {
			logger.Log.Debugf("ignoring start from device %d", msg.From)
		}
		return
	}

	if c.Status() != StatusPlaying {
		logger.Log.Debugf("ignoring %s from device %d while %s", msg.Kind, msg.From, c.Status())
		return
	}
	c.engine.Handle(ctx, msg)
}

// tryStart closes enrollment if enough registered players are present.
// Otherwise it logs and keeps enrolling.
func (c *Controller) tryStart(ctx context.Context) {
	if c.Status() != StatusEnrolling {
		return
	}

	registered := make(map[network.DeviceID]bool)
	for _, id := range c.devices.Snapshot() {
		if id == network.ConsoleID {
			continue
		}
		registered[id] = true
		if err := c.engine.AddPlayer(id); err != nil {
			logger.Log.Debugf("device %d not enrolled: %v", id, err)
		}
	}
	for _, id := range c.engine.PlayerIDs() {
		if !registered[id] {
			c.engine.RemovePlayer(id)
		}
	}

	living := c.engine.LivingIDs()
	if len(living) < c.engine.MinPlayers() {
		logger.Log.Warnf("not enough players: %d enrolled, need %d", len(living), c.engine.MinPlayers())
		return
	}

	c.setStatus(StatusPlaying)
	logger.Log.Infof("enrollment closed with players %v", living)
	result := broadcast.Fanout(ctx, c.sender, living, network.Simple(network.KindStart), c.opts.Send)
	if failed := result.Failed(); len(failed) > 0 {
		logger.Log.Warnf("start not delivered to %v", failed)
	}
}

func (c *Controller) record(ctx context.Context) {
	res := c.engine.Result()
	c.result.Store(&res)
	if err := c.opts.Recorder.SaveGameResult(ctx, res); err != nil {
		logger.Log.Errorf("saving result of game %s: %v", res.GameID, err)
		return
	}
	logger.Log.Infof("game %s finished after %d rounds, winners %v", res.GameID, res.Rounds, res.Winners)
}

// Result returns the outcome once the game has finished.
func (c *Controller) Result() (engine.Result, bool) {
	res := c.result.Load()
	if res == nil {
		return engine.Result{}, false
	}
	return *res, true
}

// View is the operator-facing state of the game.
type View struct {
	Status           string             `json:"status"`
	ConsoleConnected bool               `json:"console_connected"`
	Connected        []network.DeviceID `json:"connected"`
	Game             *engine.Snapshot   `json:"game"`
}

func (c *Controller) View() View {
	return View{
		Status:           c.Status().String(),
		ConsoleConnected: c.devices.Contains(network.ConsoleID),
		Connected:        c.devices.Snapshot(),
		Game:             c.engine.Snapshot(),
	}
}
