package engine

import (
	"fmt"
	"time"

	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/scoring"
	"github.com/wfunc/guessroulette/state"
)

type idleState struct {
	state.BaseState
	e *Engine
}

func (s *idleState) OnEnter() {
	s.e.round = Round{Index: s.e.round.Index}
}

func (s *idleState) OnUpdate() {
	e := s.e
	if err := e.machine.ChangeState(e.selecting); err != nil {
		if !e.waiting {
			logger.Log.Warnf("not enough players: %d living, need %d", e.Living(), e.cfg.MinPlayers)
			e.waiting = true
		}
		return
	}
	e.waiting = false
}

type selectingState struct {
	state.BaseState
	e *Engine
}

func (s *selectingState) OnEnter() {
	e := s.e
	if e.startedAt.IsZero() {
		e.startedAt = e.clock.Now()
	}
	e.round = Round{Index: e.round.Index + 1}
	e.assignRoles()
	e.monitor.SetRound(e.round.Index)
	logger.Log.Infof("round %d: picker %d, guessers %d and %d, %d bettors",
		e.round.Index, e.round.Picker, e.round.Guessers[0], e.round.Guessers[1], len(e.round.Bettors))

	e.startWheel("picker_wheel", network.WheelCommand(e.round.Picker))
}

func (s *selectingState) OnUpdate() {
	e := s.e
	if e.interrupted() || !e.barrierDone() {
		return
	}

	roles := map[network.DeviceID]network.Command{
		e.round.Picker: network.RoleCommand(network.RolePicker, 0),
	}
	for id, slot := range e.round.Bettors {
		roles[id] = network.RoleCommand(network.RoleBettor, slot)
	}
	e.setRoles(roles)
	if e.interrupted() {
		return
	}
	e.enter(e.awaitingPicker)
}

type awaitingPickerState struct {
	state.BaseState
	e      *Engine
	picked bool
}

func (s *awaitingPickerState) OnEnter() {
	s.picked = false
	s.e.armPhaseTimer()
}

// HandleMessage takes the pick. Bettors already know their slots, so their
// bets are recorded here too; guesses wait for the guesser roles.
func (s *awaitingPickerState) HandleMessage(msg network.Message) error {
	e := s.e
	switch msg.Kind {
	case network.KindBet:
		return e.recordBet(msg)
	case network.KindGuess:
		return fmt.Errorf("%w: guess from device %d before guessing opened", ErrRejected, msg.From)
	case network.KindPick:
	default:
		return nil
	}
	if msg.From != e.round.Picker {
		return fmt.Errorf("%w: device %d is not the picker", ErrRejected, msg.From)
	}
	if s.picked {
		return fmt.Errorf("%w: pick already committed", ErrRejected)
	}
	if !network.InRange(msg.Value) {
		return fmt.Errorf("%w: pick %d out of range", ErrRejected, msg.Value)
	}

	v := msg.Value
	e.round.PickerValue = &v
	e.recordValue(msg.From, v)
	s.picked = true
	logger.Log.Infof("round %d: picker %d committed a number", e.round.Index, msg.From)

	e.sendConsole(network.WheelOffCommand())
	e.startWheel("guesser_wheel", network.WheelCommand(e.round.Guessers[0], e.round.Guessers[1]))
	return nil
}

func (s *awaitingPickerState) OnUpdate() {
	e := s.e
	if e.interrupted() {
		return
	}
	if !s.picked {
		e.phaseExpired("pick")
		return
	}
	if !e.barrierDone() {
		return
	}

	e.setRoles(map[network.DeviceID]network.Command{
		e.round.Guessers[0]: network.RoleCommand(network.RoleGuesser, 1),
		e.round.Guessers[1]: network.RoleCommand(network.RoleGuesser, 2),
	})
	if e.interrupted() {
		return
	}
	e.enter(e.awaitingSubmissions)
}

type awaitingSubmissionsState struct {
	state.BaseState
	e *Engine
}

func (s *awaitingSubmissionsState) OnEnter() {
	s.e.armPhaseTimer()
}

// HandleMessage records guesses and bets. A repeated submission for the
// same slot replaces the earlier one.
func (s *awaitingSubmissionsState) HandleMessage(msg network.Message) error {
	e := s.e
	switch msg.Kind {
	case network.KindGuess:
		if msg.Slot < 1 || msg.Slot > 2 || e.round.Guessers[msg.Slot-1] != msg.From {
			return fmt.Errorf("%w: device %d does not hold guess slot %d", ErrRejected, msg.From, msg.Slot)
		}
		if !network.InRange(msg.Value) {
			return fmt.Errorf("%w: guess %d out of range", ErrRejected, msg.Value)
		}
		v := msg.Value
		e.round.GuesserValues[msg.Slot-1] = &v
		e.recordValue(msg.From, v)

	case network.KindBet:
		return e.recordBet(msg)
	}
	return nil
}

// recordBet stores a bet for the sender's slot, replacing any earlier one.
func (e *Engine) recordBet(msg network.Message) error {
	slot, ok := e.round.Bettors[msg.From]
	if !ok {
		return fmt.Errorf("%w: device %d is not a bettor", ErrRejected, msg.From)
	}
	if slot != msg.Slot {
		return fmt.Errorf("%w: device %d holds bet slot %d, not %d", ErrRejected, msg.From, slot, msg.Slot)
	}
	if !network.InRange(msg.Value) {
		return fmt.Errorf("%w: bet %d out of range", ErrRejected, msg.Value)
	}
	e.round.BettorValues[msg.From] = msg.Value
	e.recordValue(msg.From, msg.Value)
	return nil
}

func (s *awaitingSubmissionsState) OnUpdate() {
	e := s.e
	if e.interrupted() {
		return
	}
	if !e.round.complete() {
		e.phaseExpired("guesses and bets")
		return
	}
	e.sendConsole(network.WheelOffCommand())
	e.enter(e.resolving)
}

type resolvingState struct {
	state.BaseState
	e *Engine
}

func (s *resolvingState) OnUpdate() {
	s.e.resolve()
	s.e.finishRound()
}

// resolve scores the round, clamps health at zero, pushes the new health
// to every scored player and notifies the eliminated.
func (e *Engine) resolve() {
	r := &e.round
	health := make(map[network.DeviceID]int)
	for id, p := range e.players {
		if p.Living() {
			health[id] = p.Health
		}
	}
	bets := make(map[network.DeviceID]int, len(r.BettorValues))
	for id, v := range r.BettorValues {
		bets[id] = v
	}
	in := scoring.Input{
		Pick:     *r.PickerValue,
		Guessers: r.Guessers,
		Guesses:  [2]int{*r.GuesserValues[0], *r.GuesserValues[1]},
		Bets:     bets,
		Health:   health,
	}
	out := scoring.Score(e.cfg.Rules, in)

	switch {
	case out.PerfectPair:
		logger.Log.Infof("round %d: perfect pair, guessers %d and %d restored", r.Index, r.Guessers[0], r.Guessers[1])
	case out.Tie:
		logger.Log.Infof("round %d: guessers tied at %d, no change", r.Index, out.Diffs[0])
	default:
		logger.Log.Infof("round %d: guesser %d loses %d", r.Index, r.Guessers[out.Loser], out.Diffs[out.Loser])
	}

	updates := make(map[network.DeviceID]network.Command, len(out.Health))
	var eliminated []network.DeviceID
	for id, h := range out.Health {
		p, ok := e.players[id]
		if !ok {
			continue
		}
		if h < 0 {
			h = 0
		}
		p.Health = h
		updates[id] = network.HealthCommand(h)
		if h == 0 {
			eliminated = append(eliminated, id)
		}
	}
	e.dropUnreachable(broadcast.FanoutEach(e.ctx, e.sender, updates, e.cfg.Send))

	sortIDs(eliminated)
	for _, id := range eliminated {
		if p, ok := e.players[id]; ok {
			p.Role = network.RoleEliminated
			p.Slot = 0
		}
	}
	if len(eliminated) > 0 {
		logger.Log.Infof("round %d: eliminated %v", r.Index, eliminated)
		broadcast.Fanout(e.ctx, e.sender, eliminated, network.RoleCommand(network.RoleEliminated, 0), e.cfg.Send)
	}

	e.history = append(e.history, RoundSummary{
		Index:       r.Index,
		Pick:        in.Pick,
		Guesses:     in.Guesses,
		Diffs:       out.Diffs,
		Tie:         out.Tie,
		PerfectPair: out.PerfectPair,
		Bets:        bets,
		Eliminated:  eliminated,
	})
}

type gameOverState struct {
	state.BaseState
	e     *Engine
	until time.Time
}

func (s *gameOverState) OnEnter() {
	e := s.e
	e.barrier = nil
	e.endedAt = e.clock.Now()
	e.winners = e.topHealth()
	if len(e.winners) == 0 {
		logger.Log.Warnf("game over after %d rounds with no living players", e.round.Index)
	} else {
		logger.Log.Infof("game over after %d rounds, winners %v", e.round.Index, e.winners)
		broadcast.Fanout(e.ctx, e.sender, e.winners, network.Simple(network.KindWin), e.cfg.Send)
	}
	s.until = e.endedAt.Add(e.cfg.Cooldown)
}

// OnUpdate powers every device down once the cool-down has passed.
func (s *gameOverState) OnUpdate() {
	e := s.e
	if e.done || e.clock.Now().Before(s.until) {
		return
	}

	targets := []network.DeviceID{network.ConsoleID}
	for id := range e.participants {
		targets = append(targets, id)
	}
	sortIDs(targets)
	result := broadcast.Fanout(e.ctx, e.sender, targets, network.Simple(network.KindOff), e.cfg.Send)
	if failed := result.Failed(); len(failed) > 0 {
		logger.Log.Debugf("off not delivered to %v", failed)
	}
	e.done = true
	logger.Log.Info("cool-down over, devices powered down")
}

func (e *Engine) recordValue(id network.DeviceID, v int) {
	if p, ok := e.players[id]; ok {
		p.LastValue = &v
	}
}
