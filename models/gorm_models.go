// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormGameResult 游戏结果表, one row per finished game
type GormGameResult struct {
	gorm.Model
	GameID      string            `gorm:"uniqueIndex;not null"`
	Rounds      int               `gorm:"not null"`
	Winners     []int             `gorm:"type:jsonb;serializer:json"`
	FinalHealth map[string]int    `gorm:"type:jsonb;serializer:json"`
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    int               `gorm:"default:0"` // 游戏时长(秒)
	RoundList   []GormRoundRecord `gorm:"foreignKey:GameResultID;constraint:OnDelete:CASCADE"`
}

// GormRoundRecord 每轮记录
type GormRoundRecord struct {
	gorm.Model
	GameResultID uint           `gorm:"index;not null"`
	Index        int            `gorm:"not null"`
	Pick         int
	Guesses      [2]int         `gorm:"type:jsonb;serializer:json"`
	Diffs        [2]int         `gorm:"type:jsonb;serializer:json"`
	Tie          bool
	PerfectPair  bool
	Bets         map[string]int `gorm:"type:jsonb;serializer:json"`
	Eliminated   []int          `gorm:"type:jsonb;serializer:json"`
	Aborted      string
}
