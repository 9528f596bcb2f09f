package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string `mapstructure:"log_level"`
	}
	Storage struct {
		// memory | redis, for rooms and game states
		Backend string
	}
	Database struct {
		// memory | sqlite | postgres, for the ledger
		Driver string
		DSN    string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	JWT struct {
		Secret string
	}
	Game struct {
		MinStake        int64         `mapstructure:"min_stake"`
		MaxStake        int64         `mapstructure:"max_stake"`
		TurnDuration    time.Duration `mapstructure:"turn_duration"`
		BotDelay        time.Duration `mapstructure:"bot_delay"`
		DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
	}
	Ledger struct {
		CommissionRate string `mapstructure:"commission_rate"`
		FcfaPerKora    int64  `mapstructure:"fcfa_per_kora"`
		// koras credited once to the house account for AI stakes
		HouseFloat int64 `mapstructure:"house_float"`
	}
	Payments struct {
		CallbackSecret string `mapstructure:"callback_secret"`
	}
	Cleanup struct {
		Schedule    string
		RoomTTL     time.Duration `mapstructure:"room_ttl"`
		IdleGameTTL time.Duration `mapstructure:"idle_game_ttl"`
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/ledger.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("game.min_stake", 10)
	v.SetDefault("game.max_stake", 100000)
	v.SetDefault("game.turn_duration", "30s")
	v.SetDefault("game.bot_delay", "800ms")
	v.SetDefault("game.disconnect_grace", "15s")
	v.SetDefault("ledger.commission_rate", "0.10")
	v.SetDefault("ledger.fcfa_per_kora", 10)
	v.SetDefault("ledger.house_float", 0)
	v.SetDefault("payments.callback_secret", "")
	v.SetDefault("cleanup.schedule", "@every 5m")
	v.SetDefault("cleanup.room_ttl", "30m")
	v.SetDefault("cleanup.idle_game_ttl", "2h")
}

// Load reads path (optional), a .env file next to the working directory
// (optional) and GARAME_* environment overrides, in increasing priority.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GARAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Game.MinStake <= 0 || (c.Game.MaxStake > 0 && c.Game.MaxStake < c.Game.MinStake) {
		return fmt.Errorf("game stake bounds are invalid: [%d,%d]", c.Game.MinStake, c.Game.MaxStake)
	}
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage.backend must be memory or redis, got %q", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be memory, sqlite or postgres, got %q", c.Database.Driver)
	}
	return nil
}
