package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"readalong_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"readalong_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"readalong_db"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	TokenSecret string `env:"TOKEN_SECRET" envDefault:"dev-secret" validate:"min=4"`

	// Rooms left without an explicit end-meeting are evicted after staying
	// empty for RoomEmptyGraceSec.
	RoomEmptyGraceSec    uint `env:"ROOM_EMPTY_GRACE_SEC"    envDefault:"60" validate:"min=1"`
	RoomSweepIntervalSec uint `env:"ROOM_SWEEP_INTERVAL_SEC" envDefault:"15" validate:"min=1"`

	DisplayCacheTTLSec uint `env:"DISPLAY_CACHE_TTL_SEC" envDefault:"300" validate:"min=1"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8086" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
