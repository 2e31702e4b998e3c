package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	TransportStream = "stream"
	TransportPubSub = "pubsub"

	PolicyForfeit = "forfeit"
	PolicyWait    = "wait"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Game      GameConfig      `mapstructure:"game"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TransportConfig struct {
	Kind          string `mapstructure:"kind"`
	TCPAddress    string `mapstructure:"tcp_address"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type SessionConfig struct {
	AckTimeout    time.Duration `mapstructure:"ack_timeout"`
	Retries       int           `mapstructure:"retries"`
	DeadAfter     time.Duration `mapstructure:"heartbeat_dead_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type GameConfig struct {
	MaxRounds          int           `mapstructure:"max_rounds"`
	MaxHealth          int           `mapstructure:"max_health"`
	MinPlayers         int           `mapstructure:"min_players"`
	Tick               time.Duration `mapstructure:"tick"`
	WheelTimeout       time.Duration `mapstructure:"wheel_timeout"`
	PhaseTimeout       time.Duration `mapstructure:"phase_timeout"`
	PhaseTimeoutPolicy string        `mapstructure:"phase_timeout_policy"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	ClearRetries       int           `mapstructure:"clear_retries"`
	Limited            bool          `mapstructure:"limited"`
}

type ScoringConfig struct {
	BetBonus      int `mapstructure:"bet_bonus"`
	BonusWindow   int `mapstructure:"bonus_window"`
	PenaltyWindow int `mapstructure:"penalty_window"`
}

type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("transport.kind", TransportStream)
	v.SetDefault("transport.tcp_address", ":8080")
	v.SetDefault("transport.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("transport.subject_prefix", "game")

	v.SetDefault("session.ack_timeout", 2*time.Second)
	v.SetDefault("session.retries", 3)
	v.SetDefault("session.heartbeat_dead_after", 15*time.Second)
	v.SetDefault("session.sweep_interval", 4*time.Second)

	v.SetDefault("game.max_rounds", 1)
	v.SetDefault("game.max_health", 100)
	v.SetDefault("game.min_players", 3)
	v.SetDefault("game.tick", 10*time.Millisecond)
	v.SetDefault("game.wheel_timeout", 5*time.Second)
	v.SetDefault("game.phase_timeout", 300*time.Second)
	v.SetDefault("game.phase_timeout_policy", PolicyForfeit)
	v.SetDefault("game.cooldown", 15*time.Second)
	v.SetDefault("game.clear_retries", 3)
	v.SetDefault("game.limited", false)

	v.SetDefault("scoring.bet_bonus", 10)
	v.SetDefault("scoring.bonus_window", 10)
	v.SetDefault("scoring.penalty_window", 70)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.dbname", "roulette")

	v.SetDefault("metrics.namespace", "roulette")
}

// Flags returns the command-line flags understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("roulette", pflag.ContinueOnError)
	fs.String("config", ".", "directory containing config.yaml")
	fs.String("transport", TransportStream, "device transport binding (stream|pubsub)")
	fs.Int("max-rounds", 1, "rounds before the game ends")
	fs.Bool("limited", false, "use the reduced health/scoring preset")
	return fs
}

// LoadConfig reads config.yaml from path (a missing file is not an error),
// then environment variables prefixed ROULETTE_, then any flags that were
// explicitly set.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("roulette")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{
			"transport.kind":  "transport",
			"game.max_rounds": "max-rounds",
			"game.limited":    "limited",
		} {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyPresets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPresets swaps in the reduced numbers used for short demo games.
func (c *Config) applyPresets() {
	if !c.Game.Limited {
		return
	}
	c.Game.MaxHealth = 15
	c.Scoring.BetBonus = 2
	c.Scoring.BonusWindow = 2
	c.Scoring.PenaltyWindow = 10
}

func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportStream, TransportPubSub:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	switch c.Game.PhaseTimeoutPolicy {
	case PolicyForfeit, PolicyWait:
	default:
		return fmt.Errorf("unknown phase timeout policy %q", c.Game.PhaseTimeoutPolicy)
	}
	if c.Game.MinPlayers < 3 {
		return fmt.Errorf("min_players must be at least 3, got %d", c.Game.MinPlayers)
	}
	if c.Game.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be positive, got %d", c.Game.MaxRounds)
	}
	if c.Session.Retries < 0 {
		return fmt.Errorf("session retries must not be negative")
	}
	if c.Game.Tick <= 0 || c.Session.AckTimeout <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("tick, ack_timeout and sweep_interval must be positive")
	}
	return nil
}
