package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	BrokerRedis  = "redis"
	BrokerMemory = "memory"
)

type Config struct {
	Service  Service  `yaml:"service"`
	Postgres Postgres `yaml:"postgres"`
	Mongo    Mongo    `yaml:"mongo"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Chat     Chat     `yaml:"chat"`
}

type Service struct {
	Name string `yaml:"name" env:"SERVICE_NAME" env-default:"travel-chat"`
	Addr string `yaml:"addr" env:"SERVICE_ADDR" env-default:":8080"`
	Env  string `yaml:"env" env:"APP_ENV" env-default:"development"`
}

type Postgres struct {
	DSN          string `yaml:"dsn" env:"DB_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

type Mongo struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"travel"`
}

type Redis struct {
	Addr          string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password      string `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ChannelPrefix string `yaml:"channel_prefix" env:"REDIS_CHANNEL_PREFIX" env-default:"chat:"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"24h"`
}

type Chat struct {
	StoreDriver      string        `yaml:"store_driver" env:"STORE_DRIVER" env-default:"postgres"`
	BrokerDriver     string        `yaml:"broker_driver" env:"BROKER_DRIVER" env-default:"redis"`
	StoreTimeout     time.Duration `yaml:"store_timeout" env:"CHAT_STORE_TIMEOUT" env-default:"5s"`
	PublishTimeout   time.Duration `yaml:"publish_timeout" env:"CHAT_PUBLISH_TIMEOUT" env-default:"2s"`
	MaxMessageLength int           `yaml:"max_message_length" env:"CHAT_MAX_MESSAGE_LENGTH" env-default:"2000"`
}

// Load reads an optional .env file, then the YAML file at path (if any), then
// the environment. Environment values win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "err", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Chat.StoreDriver {
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres store")
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
		// User accounts always live in postgres.
		if c.Postgres.DSN == "" {
			return fmt.Errorf("DB_DSN is required for user accounts")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Chat.StoreDriver)
	}

	switch c.Chat.BrokerDriver {
	case BrokerRedis, BrokerMemory:
	default:
		return fmt.Errorf("unknown broker driver %q", c.Chat.BrokerDriver)
	}

	if c.Chat.StoreTimeout <= 0 || c.Chat.PublishTimeout <= 0 {
		return fmt.Errorf("chat timeouts must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_LENGTH must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Service.Env == "production"
}
