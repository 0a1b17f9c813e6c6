package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, nested keys use "__":
// POS_ORDER_API__BASE_URL overrides order_api.base_url.
const EnvPrefix = "POS_"

// Config holds all configuration for the waiter gateway and audit subscriber
type Config struct {
	App      AppConfig      `koanf:"app"`
	HTTP     HTTPConfig     `koanf:"http"`
	OrderAPI OrderAPIConfig `koanf:"order_api"`
	Session  SessionConfig  `koanf:"session"`
	Database DatabaseConfig `koanf:"database"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	Redis    RedisConfig    `koanf:"redis"`
}

type AppConfig struct {
	Name     string `koanf:"name"`
	LogLevel string `koanf:"log_level"`
	LogFile  string `koanf:"log_file"`
}

type HTTPConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// OrderAPIConfig points at the remote order-management service
type OrderAPIConfig struct {
	BaseURL            string        `koanf:"base_url"`
	Timeout            time.Duration `koanf:"timeout"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// SessionConfig tunes waiter order sessions
type SessionConfig struct {
	Debounce time.Duration `koanf:"debounce"`
	IdleTTL  time.Duration `koanf:"idle_ttl"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	Database   string `koanf:"database"`
	Migrations string `koanf:"migrations"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

// RedisConfig enables idempotency keys on gateway writes when Addr is set
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	TTL      time.Duration `koanf:"ttl"`
}

func defaults() Config {
	return Config{
		App:  AppConfig{Name: "restaurant-pos", LogLevel: "info"},
		HTTP: HTTPConfig{Addr: ":3000", ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second},
		OrderAPI: OrderAPIConfig{
			Timeout:            10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Session:  SessionConfig{Debounce: 800 * time.Millisecond, IdleTTL: 2 * time.Hour},
		Database: DatabaseConfig{Port: 5432, Migrations: "migrations"},
		RabbitMQ: RabbitMQConfig{Port: 5672},
		Redis:    RedisConfig{TTL: 10 * time.Minute},
	}
}

// Load reads configuration from a YAML file and overlays POS_ environment variables
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// ValidateGateway checks the keys the waiter gateway cannot run without
func (c *Config) ValidateGateway() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.OrderAPI.BaseURL == "" {
		return fmt.Errorf("order_api.base_url is required")
	}
	if c.Session.Debounce <= 0 {
		return fmt.Errorf("session.debounce must be positive")
	}
	return nil
}

// ValidateAudit checks the keys the audit subscriber cannot run without
func (c *Config) ValidateAudit() error {
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database.host and database.database are required")
	}
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq.host is required")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}
