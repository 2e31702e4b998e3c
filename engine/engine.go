// Package engine runs the round state machine. An Engine is driven from a
// single goroutine: the controller feeds it drained messages with Handle and
// advances it with Step. Only Snapshot is safe to call from elsewhere.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/scoring"
	"github.com/wfunc/guessroulette/session"
	"github.com/wfunc/guessroulette/state"
)

type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseSelecting           Phase = "selecting"
	PhaseAwaitingPicker      Phase = "awaiting_picker"
	PhaseAwaitingSubmissions Phase = "awaiting_submissions"
	PhaseResolving           Phase = "resolving"
	PhaseGameOver            Phase = "game_over"
)

// TimeoutPolicy decides what happens when a phase waits too long for input.
type TimeoutPolicy string

const (
	// ForfeitOnTimeout abandons the round without scoring.
	ForfeitOnTimeout TimeoutPolicy = "forfeit"
	// WaitOnTimeout keeps waiting and re-arms the timer.
	WaitOnTimeout TimeoutPolicy = "wait"
)

var (
	ErrGameInProgress   = errors.New("game already in progress")
	ErrConsoleNotPlayer = errors.New("the console cannot be a player")
	ErrRejected         = errors.New("submission rejected")
)

type Config struct {
	MaxRounds     int
	MinPlayers    int
	WheelTimeout  time.Duration
	PhaseTimeout  time.Duration
	TimeoutPolicy TimeoutPolicy
	Cooldown      time.Duration
	// Send is used for role, health and display commands.
	Send         session.SendOptions
	ClearRetries int
	Rules        scoring.Rules
}

func DefaultConfig() Config {
	return Config{
		MaxRounds:     1,
		MinPlayers:    3,
		WheelTimeout:  5 * time.Second,
		PhaseTimeout:  300 * time.Second,
		TimeoutPolicy: ForfeitOnTimeout,
		Cooldown:      15 * time.Second,
		Send:          session.SendOptions{ExpectAck: true, Retries: 3, Timeout: 2 * time.Second},
		ClearRetries:  3,
		Rules:         scoring.DefaultRules(),
	}
}

type Player struct {
	ID        network.DeviceID `json:"id"`
	Role      network.Role     `json:"role"`
	Slot      int              `json:"slot,omitempty"`
	Health    int              `json:"health"`
	LastValue *int             `json:"last_value,omitempty"`
}

func (p *Player) Living() bool {
	return p.Role != network.RoleEliminated
}

// Round holds the per-round assignment and submissions.
type Round struct {
	Index         int
	Picker        network.DeviceID
	Guessers      [2]network.DeviceID
	Bettors       map[network.DeviceID]int // id -> 1-based slot
	PickerValue   *int
	GuesserValues [2]*int
	BettorValues  map[network.DeviceID]int
}

// complete reports whether both guesses and every remaining bettor's bet
// are in.
func (r *Round) complete() bool {
	if r.GuesserValues[0] == nil || r.GuesserValues[1] == nil {
		return false
	}
	for id := range r.Bettors {
		if _, ok := r.BettorValues[id]; !ok {
			return false
		}
	}
	return true
}

type RoundSummary struct {
	Index       int                      `json:"index"`
	Pick        int                      `json:"pick"`
	Guesses     [2]int                   `json:"guesses"`
	Diffs       [2]int                   `json:"diffs"`
	Tie         bool                     `json:"tie,omitempty"`
	PerfectPair bool                     `json:"perfect_pair,omitempty"`
	Bets        map[network.DeviceID]int `json:"bets,omitempty"`
	Eliminated  []network.DeviceID       `json:"eliminated,omitempty"`
	Aborted     string                   `json:"aborted,omitempty"`
}

type Option func(*Engine)

// WithRand fixes the source used for role selection.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

type Engine struct {
	id      string
	cfg     Config
	sender  broadcast.Sender
	clock   clockwork.Clock
	rng     *rand.Rand
	monitor *monitor.Monitor

	machine             *state.BaseStateMachine
	idle                *idleState
	selecting           *selectingState
	awaitingPicker      *awaitingPickerState
	awaitingSubmissions *awaitingSubmissionsState
	resolving           *resolvingState
	gameOver            *gameOverState

	// ctx of the Handle or Step call currently driving the machine
	ctx context.Context

	players      map[network.DeviceID]*Player
	participants map[network.DeviceID]struct{}
	round        Round
	barrier      *barrier
	deadline     time.Time
	abortReason  string
	waiting      bool
	winners      []network.DeviceID
	history      []RoundSummary
	startedAt    time.Time
	endedAt      time.Time
	done         bool

	snapshot atomic.Pointer[Snapshot]
}

func New(cfg Config, sender broadcast.Sender, clock clockwork.Clock, opts ...Option) *Engine {
	if cfg.MinPlayers < 3 {
		cfg.MinPlayers = 3
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	seed := uint64(clock.Now().UnixNano())
	e := &Engine{
		id:           uuid.NewString(),
		cfg:          cfg,
		sender:       sender,
		clock:        clock,
		rng:          rand.New(rand.NewPCG(seed, seed>>1|1)),
		ctx:          context.Background(),
		players:      make(map[network.DeviceID]*Player),
		participants: make(map[network.DeviceID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.idle = &idleState{BaseState: state.BaseState{ID: string(PhaseIdle)}, e: e}
	e.selecting = &selectingState{BaseState: state.BaseState{ID: string(PhaseSelecting)}, e: e}
	e.awaitingPicker = &awaitingPickerState{BaseState: state.BaseState{ID: string(PhaseAwaitingPicker)}, e: e}
	e.awaitingSubmissions = &awaitingSubmissionsState{BaseState: state.BaseState{ID: string(PhaseAwaitingSubmissions)}, e: e}
	e.resolving = &resolvingState{BaseState: state.BaseState{ID: string(PhaseResolving)}, e: e}
	e.gameOver = &gameOverState{BaseState: state.BaseState{ID: string(PhaseGameOver)}, e: e}

	e.machine = state.NewBaseStateMachine(e.idle)
	e.machine.AddTransition(e.idle, e.selecting, func() bool {
		return e.Living() >= e.cfg.MinPlayers
	})
	e.publish()
	return e
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Phase() Phase {
	return Phase(e.machine.GetCurrentState().GetID())
}

// Done reports whether the game has ended and the cool-down has elapsed.
func (e *Engine) Done() bool {
	return e.done
}

// WaitingForPlayers is true while the engine sits in Idle because too few
// players are left to start a round.
func (e *Engine) WaitingForPlayers() bool {
	return e.waiting
}

func (e *Engine) MinPlayers() int {
	return e.cfg.MinPlayers
}

func (e *Engine) Round() int {
	return e.round.Index
}

func (e *Engine) Living() int {
	n := 0
	for _, p := range e.players {
		if p.Living() {
			n++
		}
	}
	return n
}

func (e *Engine) Player(id network.DeviceID) (Player, bool) {
	p, ok := e.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// PlayerIDs returns every tracked player, living or not, in ascending order.
func (e *Engine) PlayerIDs() []network.DeviceID {
	ids := make([]network.DeviceID, 0, len(e.players))
	for id := range e.players {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// LivingIDs returns the players not yet eliminated, in ascending order.
func (e *Engine) LivingIDs() []network.DeviceID {
	ids := make([]network.DeviceID, 0, len(e.players))
	for id, p := range e.players {
		if p.Living() {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// AddPlayer enrolls a device at full health. Only possible in Idle.
func (e *Engine) AddPlayer(id network.DeviceID) error {
	if id == network.ConsoleID {
		return ErrConsoleNotPlayer
	}
	if e.Phase() != PhaseIdle {
		return ErrGameInProgress
	}
	if _, ok := e.players[id]; ok {
		return nil
	}
	e.players[id] = &Player{ID: id, Role: network.RoleIdle, Health: e.cfg.Rules.MaxHealth}
	e.participants[id] = struct{}{}
	logger.Log.Infof("player %d enrolled (%d players)", id, len(e.players))
	e.publish()
	return nil
}

// RemovePlayer drops a player as if its device had disconnected.
func (e *Engine) RemovePlayer(id network.DeviceID) {
	e.playerLost(id, "removed")
	e.publish()
}

// Handle applies one inbound message.
func (e *Engine) Handle(ctx context.Context, msg network.Message) {
	e.ctx = ctx
	defer e.publish()

	switch msg.Kind {
	case network.KindDisconnect:
		e.playerLost(msg.From, msg.Text)
		return
	case network.KindConnect, network.KindStart:
		return
	case network.KindLightWheel:
		if msg.Text == network.WheelDone && e.barrier != nil && !e.barrier.release(msg) {
			logger.Log.Debugf("round %d: wheel done from device %d predates %s, ignored", e.round.Index, msg.From, e.barrier.name)
		}
		return
	}

	if err := e.machine.HandleMessage(msg); err != nil {
		logger.Log.Warnf("round %d: ignoring %s from device %d: %v", e.round.Index, msg.Kind, msg.From, err)
	}
}

// Step advances the current phase once.
func (e *Engine) Step(ctx context.Context) {
	if e.done {
		return
	}
	e.ctx = ctx
	e.machine.Update()
	e.publish()
}

func (e *Engine) enter(next state.State) {
	from := e.Phase()
	if err := e.machine.ChangeState(next); err != nil {
		logger.Log.Errorf("round %d: cannot move from %s to %s: %v", e.round.Index, from, next.GetID(), err)
		return
	}
	logger.Log.Debugf("round %d: %s -> %s", e.round.Index, from, next.GetID())
}

// playerLost removes a departed device. Losing the picker or a guesser
// mid-round aborts the round; a departed bettor's slot no longer counts.
func (e *Engine) playerLost(id network.DeviceID, reason string) {
	if id == network.ConsoleID {
		if e.barrier != nil && e.barrier.waitFor == network.ConsoleID {
			logger.Log.Warnf("console left during the %s barrier, releasing it", e.barrier.name)
			e.barrier.released = true
		}
		return
	}

	p, ok := e.players[id]
	if !ok {
		return
	}
	delete(e.players, id)
	logger.Log.Infof("player %d left (%s), %d living", id, reason, e.Living())

	switch e.Phase() {
	case PhaseSelecting, PhaseAwaitingPicker, PhaseAwaitingSubmissions:
	default:
		return
	}
	switch p.Role {
	case network.RolePicker, network.RoleGuesser:
		if e.abortReason == "" {
			e.abortReason = fmt.Sprintf("%s %d disconnected", p.Role, id)
		}
	case network.RoleBettor:
		delete(e.round.Bettors, id)
		delete(e.round.BettorValues, id)
	}
}

// dropUnreachable treats devices that could not be reached as departed.
func (e *Engine) dropUnreachable(result broadcast.Result) {
	for _, id := range result.Failed() {
		if errors.Is(result[id], context.Canceled) {
			continue
		}
		e.playerLost(id, "unreachable")
	}
}

// interrupted aborts the current round if a role holder left or a phase
// timed out, and reports whether it did.
func (e *Engine) interrupted() bool {
	if e.abortReason == "" {
		return false
	}
	reason := e.abortReason
	logger.Log.Warnf("round %d aborted: %s", e.round.Index, reason)
	e.history = append(e.history, RoundSummary{Index: e.round.Index, Aborted: reason})
	e.barrier = nil
	e.sendConsole(network.WheelOffCommand())
	e.finishRound()
	return true
}

// finishRound resets roles and either ends the game or clears every living
// device and returns to Idle.
func (e *Engine) finishRound() {
	e.abortReason = ""
	for _, p := range e.players {
		if p.Living() {
			p.Role = network.RoleIdle
			p.Slot = 0
		}
	}

	living := e.LivingIDs()
	if len(living) < e.cfg.MinPlayers || e.round.Index >= e.cfg.MaxRounds {
		logger.Log.Infof("round %d finished: %d living players, round limit %d", e.round.Index, len(living), e.cfg.MaxRounds)
		e.enter(e.gameOver)
		return
	}

	opts := e.cfg.Send
	opts.ExpectAck = true
	opts.Retries = e.cfg.ClearRetries
	result := broadcast.Fanout(e.ctx, e.sender, living, network.Simple(network.KindClear), opts)
	if failed := result.Failed(); len(failed) > 0 {
		logger.Log.Warnf("round %d: no clear ack from %v", e.round.Index, failed)
		e.monitor.IncBarrierTimeouts("clear")
	}
	e.dropUnreachable(result)
	e.enter(e.idle)
}

// phaseExpired applies the timeout policy once the phase deadline passes.
func (e *Engine) phaseExpired(waitingFor string) bool {
	if e.clock.Now().Before(e.deadline) {
		return false
	}
	if e.cfg.TimeoutPolicy == WaitOnTimeout {
		logger.Log.Infof("round %d: still waiting for %s", e.round.Index, waitingFor)
		e.armPhaseTimer()
		return false
	}
	e.abortReason = fmt.Sprintf("no %s within %s", waitingFor, e.cfg.PhaseTimeout)
	return e.interrupted()
}

func (e *Engine) armPhaseTimer() {
	e.deadline = e.clock.Now().Add(e.cfg.PhaseTimeout)
}

func (e *Engine) sendConsole(cmd network.Command) error {
	err := e.sender.Send(e.ctx, network.ConsoleID, cmd, e.cfg.Send)
	if err != nil {
		logger.Log.Debugf("console did not take %s: %v", cmd, err)
	}
	return err
}

func (e *Engine) setRoles(roles map[network.DeviceID]network.Command) {
	e.dropUnreachable(broadcast.FanoutEach(e.ctx, e.sender, roles, e.cfg.Send))
}

// topHealth returns every living player sharing the highest health.
func (e *Engine) topHealth() []network.DeviceID {
	best := 0
	var ids []network.DeviceID
	for id, p := range e.players {
		if !p.Living() {
			continue
		}
		switch {
		case len(ids) == 0 || p.Health > best:
			best = p.Health
			ids = []network.DeviceID{id}
		case p.Health == best:
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []network.DeviceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
