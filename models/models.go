// models/models.go
package models

import (
	"time"
)

// GameResult 一局游戏的结果
type GameResult struct {
	GameID      string         `json:"game_id"`
	Rounds      int            `json:"rounds"`
	Winners     []int          `json:"winners"`
	FinalHealth map[string]int `json:"final_health"`
	History     []RoundRecord  `json:"history"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
}

// RoundRecord 单轮记录
type RoundRecord struct {
	Index       int            `json:"index"`
	Pick        int            `json:"pick"`
	Guesses     [2]int         `json:"guesses"`
	Diffs       [2]int         `json:"diffs"`
	Tie         bool           `json:"tie,omitempty"`
	PerfectPair bool           `json:"perfect_pair,omitempty"`
	Bets        map[string]int `json:"bets,omitempty"`
	Eliminated  []int          `json:"eliminated,omitempty"`
	Aborted     string         `json:"aborted,omitempty"`
}
