package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `yaml:"log-level" env:"RAIL_LOG_LEVEL" env-default:"info"`
	LogDir   string `yaml:"log-dir" env:"RAIL_LOG_DIR"`
	Server   Server `yaml:"server"`
	Game     Game   `yaml:"game"`
	Replay   Replay `yaml:"replay"`
}

type Server struct {
	Addr             string        `yaml:"addr" env:"RAIL_ADDR" env-default:"0.0.0.0:2000"`
	ReceiveChunkSize int           `yaml:"receive-chunk-size" env-default:"4096"`
	MaxPayloadSize   int           `yaml:"max-payload-size" env-default:"1048576"`
	WriteTimeout     time.Duration `yaml:"write-timeout" env-default:"10s"`
}

type Game struct {
	MapName             string        `yaml:"map-name" env-default:"theMap"`
	TickTime            time.Duration `yaml:"tick-time" env:"RAIL_TICK_TIME" env-default:"10s"`
	TurnTimeout         time.Duration `yaml:"turn-timeout" env-default:"30s"`
	DefaultNumPlayers   int           `yaml:"default-num-players" env-default:"1"`
	DefaultNumTurns     int           `yaml:"default-num-turns" env-default:"-1"`
	DefaultNumObservers int           `yaml:"default-num-observers" env-default:"1"`
	TrainsPerPlayer     int           `yaml:"trains-per-player" env-default:"2"`
	ObserverWaitTimeout time.Duration `yaml:"observer-wait-timeout" env-default:"1s"`
	NotifierStopTimeout time.Duration `yaml:"notifier-stop-timeout" env-default:"2s"`
}

type Replay struct {
	Backend      string        `yaml:"backend" env:"RAIL_REPLAY_BACKEND" env-default:"memory"`
	Redis        Redis         `yaml:"redis"`
	ListCacheTTL time.Duration `yaml:"list-cache-ttl" env-default:"2s"`
}

type Redis struct {
	Host     string `yaml:"host" env:"RAIL_REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"RAIL_REDIS_PORT" env-default:"6379"`
	DB       int    `yaml:"db" env:"RAIL_REDIS_DB" env-default:"0"`
	Password string `yaml:"password" env:"RAIL_REDIS_PASSWORD"`
}

// Load reads the YAML file at path and applies environment overrides. With
// an empty path only the environment and defaults are used.
func Load(path string) (*Config, error) {
	conf := &Config{}

	if path == "" {
		if err := cleanenv.ReadEnv(conf); err != nil {
			return nil, fmt.Errorf("unable to read config from environment: %w", err)
		}

		return conf, nil
	}

	if err := cleanenv.ReadConfig(path, conf); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	return conf, nil
}

// GetRedisAddr joins host and port.
func (r Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}
