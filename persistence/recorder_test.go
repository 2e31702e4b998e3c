package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/network"
)

func sampleResult() engine.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return engine.Result{
		GameID:      "g-1",
		StartedAt:   start,
		EndedAt:     start.Add(95 * time.Second),
		Rounds:      2,
		Winners:     []network.DeviceID{2, 4},
		FinalHealth: map[network.DeviceID]int{1: 0, 2: 60, 3: 20, 4: 60},
		History: []engine.RoundSummary{
			{Index: 1, Pick: 50, Guesses: [2]int{40, 45}, Diffs: [2]int{10, 5}, Bets: map[network.DeviceID]int{4: 50}},
			{Index: 2, Pick: 10, Guesses: [2]int{90, 10}, Diffs: [2]int{80, 0}, Eliminated: []network.DeviceID{1}},
		},
	}
}

func TestToModel(t *testing.T) {
	row := ToModel(sampleResult())

	assert.Equal(t, "g-1", row.GameID)
	assert.Equal(t, 2, row.Rounds)
	assert.Equal(t, 95, row.Duration)
	assert.Equal(t, []int{2, 4}, row.Winners)
	assert.Equal(t, map[string]int{"1": 0, "2": 60, "3": 20, "4": 60}, row.FinalHealth)

	require.Len(t, row.RoundList, 2)
	assert.Equal(t, map[string]int{"4": 50}, row.RoundList[0].Bets)
	assert.Nil(t, row.RoundList[1].Bets)
	assert.Equal(t, []int{1}, row.RoundList[1].Eliminated)
	assert.Equal(t, [2]int{80, 0}, row.RoundList[1].Diffs)
}

func TestToModelWithoutStart(t *testing.T) {
	res := sampleResult()
	res.StartedAt = time.Time{}
	assert.Zero(t, ToModel(res).Duration)
}

func TestToResult(t *testing.T) {
	out := ToResult(sampleResult())
	assert.Equal(t, []int{2, 4}, out.Winners)
	require.Len(t, out.History, 2)
	assert.Equal(t, 50, out.History[0].Pick)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.SaveGameResult(context.Background(), sampleResult()))
	assert.NoError(t, r.Close())
}

func TestPostgresDSN(t *testing.T) {
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=roulette sslmode=disable",
		PostgresDSN("db", 5432, "u", "p", "roulette"))
}
