// Package scoring turns one round's submissions into health changes. It is
// a pure function of its inputs; clamping and elimination are left to the
// caller.
package scoring

import (
	"github.com/wfunc/guessroulette/network"
)

type Rules struct {
	MaxHealth int
	// BetBonus is awarded to a bettor within BonusWindow of the pick.
	BetBonus    int
	BonusWindow int
	// Bettors further than BonusWindow but within PenaltyWindow lose the
	// distance; beyond it nothing happens.
	PenaltyWindow int
}

func DefaultRules() Rules {
	return Rules{MaxHealth: 100, BetBonus: 10, BonusWindow: 10, PenaltyWindow: 70}
}

// LimitedRules is the short-game preset.
func LimitedRules() Rules {
	return Rules{MaxHealth: 15, BetBonus: 2, BonusWindow: 2, PenaltyWindow: 10}
}

type Input struct {
	Pick     int
	Guessers [2]network.DeviceID
	Guesses  [2]int
	Bets     map[network.DeviceID]int
	Health   map[network.DeviceID]int
}

type Outcome struct {
	// Health is the updated value for every player in Input.Health.
	Health      map[network.DeviceID]int
	Deltas      map[network.DeviceID]int
	Diffs       [2]int
	PerfectPair bool
	// Tie is set when both guessers missed by the same nonzero amount.
	Tie bool
	// Loser is the guesser slot (0 or 1) that lost health, or -1.
	Loser int
}

func Score(r Rules, in Input) Outcome {
	out := Outcome{
		Health: make(map[network.DeviceID]int, len(in.Health)),
		Deltas: make(map[network.DeviceID]int),
		Loser:  -1,
	}
	for id, h := range in.Health {
		out.Health[id] = h
	}
	apply := func(id network.DeviceID, delta int) {
		out.Health[id] += delta
		out.Deltas[id] += delta
	}

	out.Diffs[0] = abs(in.Pick - in.Guesses[0])
	out.Diffs[1] = abs(in.Pick - in.Guesses[1])

	switch {
	case out.Diffs[0] == 0 && out.Diffs[1] == 0:
		out.PerfectPair = true
		for _, id := range in.Guessers {
			apply(id, r.MaxHealth-out.Health[id])
		}
	case out.Diffs[0] == out.Diffs[1]:
		out.Tie = true
	case out.Diffs[0] > out.Diffs[1]:
		out.Loser = 0
		apply(in.Guessers[0], -out.Diffs[0])
	default:
		out.Loser = 1
		apply(in.Guessers[1], -out.Diffs[1])
	}

	for id, bet := range in.Bets {
		apply(id, betDelta(r, in.Pick, bet))
	}
	return out
}

func betDelta(r Rules, pick, bet int) int {
	diff := abs(bet - pick)
	switch {
	case diff == 0:
		return pick
	case diff <= r.BonusWindow:
		return r.BetBonus
	case diff <= r.PenaltyWindow:
		return -diff
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
