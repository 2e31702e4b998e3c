package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/guessroulette/network"
)

func input(pick, guessA, guessB int, bets map[network.DeviceID]int, health map[network.DeviceID]int) Input {
	return Input{
		Pick:     pick,
		Guessers: [2]network.DeviceID{2, 3},
		Guesses:  [2]int{guessA, guessB},
		Bets:     bets,
		Health:   health,
	}
}

func TestScore_PerfectPairRestoresGuessers(t *testing.T) {
	health := map[network.DeviceID]int{1: 100, 2: 35, 3: 80}
	out := Score(DefaultRules(), input(50, 50, 50, nil, health))

	assert.True(t, out.PerfectPair)
	assert.Equal(t, 100, out.Health[2])
	assert.Equal(t, 100, out.Health[3])
	assert.Equal(t, 100, out.Health[1], "picker is untouched")
	assert.Equal(t, 35, health[2], "input map must not be modified")
}

func TestScore_LargerDiffLoses(t *testing.T) {
	health := map[network.DeviceID]int{1: 100, 2: 100, 3: 100}
	out := Score(DefaultRules(), input(50, 45, 80, nil, health))

	assert.Equal(t, 1, out.Loser)
	assert.Equal(t, 100, out.Health[2])
	assert.Equal(t, 70, out.Health[3])
	assert.Equal(t, -30, out.Deltas[3])
}

func TestScore_EqualNonzeroDiffIsATie(t *testing.T) {
	health := map[network.DeviceID]int{1: 100, 2: 100, 3: 100}
	out := Score(DefaultRules(), input(50, 40, 60, nil, health))

	assert.True(t, out.Tie)
	assert.False(t, out.PerfectPair)
	assert.Equal(t, -1, out.Loser)
	assert.Equal(t, health, out.Health)
}

func TestScore_OneExactGuessIsNotAPerfectPair(t *testing.T) {
	health := map[network.DeviceID]int{2: 60, 3: 60}
	out := Score(DefaultRules(), input(50, 50, 55, nil, health))

	assert.False(t, out.PerfectPair)
	assert.Equal(t, 60, out.Health[2])
	assert.Equal(t, 55, out.Health[3])
}

func TestScore_BetWindows(t *testing.T) {
	cases := []struct {
		name string
		bet  int
		want int
	}{
		{"exact gains the pick", 50, 50},
		{"bonus window is inclusive", 40, 10},
		{"just outside bonus loses the diff", 39, -11},
		{"penalty window is inclusive", 120, -70},
		{"beyond penalty window", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rules := DefaultRules()
			if tc.bet == 0 {
				// diff 50 is still inside 70; widen the gap with a tighter window
				rules.PenaltyWindow = 40
			}
			health := map[network.DeviceID]int{2: 100, 3: 100, 4: 100}
			out := Score(rules, input(50, 50, 50, map[network.DeviceID]int{4: tc.bet}, health))
			assert.Equal(t, tc.want, out.Deltas[4])
			assert.Equal(t, 100+tc.want, out.Health[4])
		})
	}
}

func TestScore_NoClamping(t *testing.T) {
	health := map[network.DeviceID]int{2: 5, 3: 100, 4: 3}
	out := Score(DefaultRules(), input(90, 10, 90, map[network.DeviceID]int{4: 30}, health))

	require.Equal(t, 0, out.Loser)
	assert.Equal(t, -75, out.Health[2])
	assert.Equal(t, -57, out.Health[4])
}

func TestLimitedRules(t *testing.T) {
	health := map[network.DeviceID]int{2: 15, 3: 15, 4: 15, 5: 15}
	bets := map[network.DeviceID]int{4: 52, 5: 59}
	out := Score(LimitedRules(), input(50, 50, 50, bets, health))

	assert.Equal(t, 2, out.Deltas[4])
	assert.Equal(t, -9, out.Deltas[5])
}
