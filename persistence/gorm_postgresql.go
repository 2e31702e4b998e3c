// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/models"
	"github.com/wfunc/guessroulette/network"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormRecorder 使用GORM的PostgreSQL结果存档
type GormRecorder struct {
	db *gorm.DB
}

// PostgresDSN builds the connection string used by NewGormRecorder.
func PostgresDSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// NewGormRecorder 创建GORM PostgreSQL数据库连接
func NewGormRecorder(dsn string) (*GormRecorder, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.GormGameResult{}, &models.GormRoundRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &GormRecorder{db: db}, nil
}

// SaveGameResult stores the game and its rounds in one transaction.
func (p *GormRecorder) SaveGameResult(ctx context.Context, res engine.Result) error {
	row := ToModel(res)
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

// Close 关闭数据库连接
func (p *GormRecorder) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ToModel maps an engine result onto the table rows. Device ids become
// string keys in the jsonb columns.
func ToModel(res engine.Result) models.GormGameResult {
	row := models.GormGameResult{
		GameID:      res.GameID,
		Rounds:      res.Rounds,
		Winners:     idsToInts(res.Winners),
		FinalHealth: keyed(res.FinalHealth),
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
	}
	if !res.StartedAt.IsZero() && res.EndedAt.After(res.StartedAt) {
		row.Duration = int(res.EndedAt.Sub(res.StartedAt).Seconds())
	}
	for _, r := range res.History {
		row.RoundList = append(row.RoundList, models.GormRoundRecord{
			Index:       r.Index,
			Pick:        r.Pick,
			Guesses:     r.Guesses,
			Diffs:       r.Diffs,
			Tie:         r.Tie,
			PerfectPair: r.PerfectPair,
			Bets:        keyed(r.Bets),
			Eliminated:  idsToInts(r.Eliminated),
			Aborted:     r.Aborted,
		})
	}
	return row
}

// ToResult is the JSON-friendly form of a result, used by the operator API.
func ToResult(res engine.Result) models.GameResult {
	out := models.GameResult{
		GameID:      res.GameID,
		Rounds:      res.Rounds,
		Winners:     idsToInts(res.Winners),
		FinalHealth: keyed(res.FinalHealth),
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
	}
	for _, r := range res.History {
		out.History = append(out.History, models.RoundRecord{
			Index:       r.Index,
			Pick:        r.Pick,
			Guesses:     r.Guesses,
			Diffs:       r.Diffs,
			Tie:         r.Tie,
			PerfectPair: r.PerfectPair,
			Bets:        keyed(r.Bets),
			Eliminated:  idsToInts(r.Eliminated),
			Aborted:     r.Aborted,
		})
	}
	return out
}

func idsToInts(ids []network.DeviceID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

func keyed(m map[network.DeviceID]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for id, v := range m {
		out[strconv.Itoa(int(id))] = v
	}
	return out
}
