package engine

import (
	"github.com/wfunc/guessroulette/network"
)

// assignRoles shuffles the living players and splits them into one picker,
// two guessers and bettors numbered from 1. Every living player receives
// exactly one role.
func (e *Engine) assignRoles() {
	ids := e.LivingIDs()
	e.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	r := &e.round
	r.Picker = ids[0]
	r.Guessers = [2]network.DeviceID{ids[1], ids[2]}
	r.Bettors = make(map[network.DeviceID]int, len(ids)-3)
	r.BettorValues = make(map[network.DeviceID]int)

	e.players[r.Picker].Role = network.RolePicker
	e.players[r.Picker].Slot = 0
	for i, id := range r.Guessers {
		e.players[id].Role = network.RoleGuesser
		e.players[id].Slot = i + 1
	}
	for i, id := range ids[3:] {
		r.Bettors[id] = i + 1
		e.players[id].Role = network.RoleBettor
		e.players[id].Slot = i + 1
	}
}
