package engine

import (
	"time"

	"github.com/wfunc/guessroulette/network"
)

// Snapshot is a read-only view of the engine for the operator API.
type Snapshot struct {
	GameID            string             `json:"game_id"`
	Phase             Phase              `json:"phase"`
	Round             int                `json:"round"`
	MaxRounds         int                `json:"max_rounds"`
	Players           []Player           `json:"players"`
	Living            int                `json:"living"`
	Winners           []network.DeviceID `json:"winners,omitempty"`
	WaitingForPlayers bool               `json:"waiting_for_players"`
	Done              bool               `json:"done"`
}

// Result summarises a finished game.
type Result struct {
	GameID      string
	StartedAt   time.Time
	EndedAt     time.Time
	Rounds      int
	Winners     []network.DeviceID
	FinalHealth map[network.DeviceID]int
	History     []RoundSummary
}

// Snapshot returns the state as of the last Handle or Step. Safe for
// concurrent use.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

func (e *Engine) Result() Result {
	health := make(map[network.DeviceID]int, len(e.players))
	for id, p := range e.players {
		health[id] = p.Health
	}
	return Result{
		GameID:      e.id,
		StartedAt:   e.startedAt,
		EndedAt:     e.endedAt,
		Rounds:      e.round.Index,
		Winners:     append([]network.DeviceID(nil), e.winners...),
		FinalHealth: health,
		History:     append([]RoundSummary(nil), e.history...),
	}
}

func (e *Engine) publish() {
	players := make([]Player, 0, len(e.players))
	for _, id := range e.PlayerIDs() {
		p := *e.players[id]
		if p.LastValue != nil {
			v := *p.LastValue
			p.LastValue = &v
		}
		players = append(players, p)
	}
	living := e.Living()
	e.snapshot.Store(&Snapshot{
		GameID:            e.id,
		Phase:             e.Phase(),
		Round:             e.round.Index,
		MaxRounds:         e.cfg.MaxRounds,
		Players:           players,
		Living:            living,
		Winners:           append([]network.DeviceID(nil), e.winners...),
		WaitingForPlayers: e.waiting,
		Done:              e.done,
	})
	e.monitor.SetLivingPlayers(living)
}
