// Package config reads service configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"PORT" env-default:"8080"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"10s"`
	RateRPS        float64       `yaml:"rate_rps" env:"RATE_RPS" env-default:"5"`
	RateBurst      int           `yaml:"rate_burst" env:"RATE_BURST" env-default:"10"`
}

type AuthConfig struct {
	Secret     string        `yaml:"secret" env:"SECRET"`
	Issuer     string        `yaml:"issuer" env:"ISSUER" env-default:"multivendor-checkout"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL" env-default:"720h"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn" env:"DSN"`
	MaxConns int32  `yaml:"max_conns" env:"MAX_CONNS" env-default:"10"`
	Migrate  bool   `yaml:"migrate" env:"MIGRATE" env-default:"true"`
}

// NotifyConfig selects the transport for order confirmations.
type NotifyConfig struct {
	Transport    string `yaml:"transport" env:"TRANSPORT" env-default:"log"` // kafka | rabbitmq | log
	KafkaBrokers string `yaml:"kafka_brokers" env:"KAFKA_BROKERS"`
	KafkaTopic   string `yaml:"kafka_topic" env:"KAFKA_TOPIC" env-default:"order-confirmations"`
	RabbitURL    string `yaml:"rabbit_url" env:"RABBITMQ_URL"`
	RabbitQueue  string `yaml:"rabbit_queue" env:"RABBITMQ_QUEUE" env-default:"order-confirmations"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT" env-default:"9000"`
	Database string `yaml:"database" env:"DATABASE" env-default:"checkout"`
	Username string `yaml:"username" env:"USERNAME" env-default:"default"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// Enabled reports whether the analytics sink should be started.
func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

type GatewayConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Mock    bool          `yaml:"mock" env:"MOCK" env-default:"false"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"10s"`
	// PublicURL is where the mock gateway's form posts its webhook.
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL" env-default:"http://localhost:8080"`
}

// Server is the backend configuration.
type Server struct {
	HTTP       HTTPConfig       `yaml:"http" env-prefix:"HTTP_"`
	Auth       AuthConfig       `yaml:"auth" env-prefix:"AUTH_"`
	Postgres   PostgresConfig   `yaml:"postgres" env-prefix:"POSTGRES_"`
	Notify     NotifyConfig     `yaml:"notify" env-prefix:"NOTIFY_"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" env-prefix:"CLICKHOUSE_"`
	Gateway    GatewayConfig    `yaml:"gateway" env-prefix:"GATEWAY_"`
}

// Client is the configuration of the checkout host.
type Client struct {
	APIURL         string        `yaml:"api_url" env:"CHECKOUT_API_URL" env-default:"http://localhost:8080"`
	SessionDB      string        `yaml:"session_db" env:"CHECKOUT_SESSION_DB" env-default:"checkout-session.db"`
	ListenAddr     string        `yaml:"listen_addr" env:"CHECKOUT_LISTEN_ADDR" env-default:"127.0.0.1:8765"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"CHECKOUT_REQUEST_TIMEOUT" env-default:"10s"`
	PaymentTTL     time.Duration `yaml:"payment_ttl" env:"CHECKOUT_PAYMENT_TTL" env-default:"15m"`
	Parallelism    int           `yaml:"parallelism" env:"CHECKOUT_PARALLELISM" env-default:"1"`

	ConfirmAttempts int           `yaml:"confirm_attempts" env:"CHECKOUT_CONFIRM_ATTEMPTS" env-default:"8"`
	ConfirmInterval time.Duration `yaml:"confirm_interval" env:"CHECKOUT_CONFIRM_INTERVAL" env-default:"500ms"`
}

// LoadServer reads the backend configuration.
func LoadServer() (Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Server{}, fmt.Errorf("failed to read server config: %w", err)
	}
	return cfg, nil
}

// LoadClient reads the checkout host configuration.
func LoadClient() (Client, error) {
	_ = godotenv.Load()

	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Client{}, fmt.Errorf("failed to read client config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c Server) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if len(c.Auth.Secret) < 32 {
		return errors.New("AUTH_SECRET must be at least 32 bytes")
	}
	if c.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	switch strings.ToLower(c.Notify.Transport) {
	case "kafka":
		if c.Notify.KafkaBrokers == "" {
			return errors.New("NOTIFY_KAFKA_BROKERS is required for kafka transport")
		}
	case "rabbitmq":
		if c.Notify.RabbitURL == "" {
			return errors.New("NOTIFY_RABBITMQ_URL is required for rabbitmq transport")
		}
	case "log":
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.Notify.Transport)
	}
	if !c.Gateway.Mock {
		if c.Gateway.URL == "" {
			return errors.New("GATEWAY_URL is required unless GATEWAY_MOCK=true")
		}
		// The key also authenticates webhook deliveries.
		if c.Gateway.APIKey == "" {
			return errors.New("GATEWAY_API_KEY is required unless GATEWAY_MOCK=true")
		}
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c Client) Validate() error {
	if c.APIURL == "" {
		return errors.New("CHECKOUT_API_URL is required")
	}
	if c.ConfirmAttempts <= 0 {
		return errors.New("CHECKOUT_CONFIRM_ATTEMPTS must be positive")
	}
	if c.Parallelism <= 0 {
		return errors.New("CHECKOUT_PARALLELISM must be positive")
	}
	return nil
}
