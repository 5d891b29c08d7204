package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", strings.Repeat("k", 32))
	t.Setenv("POSTGRES_DSN", "postgres://localhost/checkout")
	t.Setenv("GATEWAY_MOCK", "true")

	cfg, err := LoadServer()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "log", cfg.Notify.Transport)
	assert.False(t, cfg.ClickHouse.Enabled())
}

func TestServerValidate(t *testing.T) {
	t.Parallel()

	valid := Server{
		Auth:     AuthConfig{Secret: strings.Repeat("k", 32)},
		Postgres: PostgresConfig{DSN: "postgres://localhost/checkout"},
		Notify:   NotifyConfig{Transport: "log"},
		Gateway:  GatewayConfig{Mock: true},
	}

	tests := []struct {
		name    string
		mutate  func(*Server)
		wantErr string
	}{
		{name: "valid", mutate: func(*Server) {}},
		{name: "missing_secret", mutate: func(c *Server) { c.Auth.Secret = "" }, wantErr: "AUTH_SECRET is required"},
		{name: "short_secret", mutate: func(c *Server) { c.Auth.Secret = "short" }, wantErr: "at least 32 bytes"},
		{name: "missing_dsn", mutate: func(c *Server) { c.Postgres.DSN = "" }, wantErr: "POSTGRES_DSN"},
		{name: "kafka_without_brokers", mutate: func(c *Server) { c.Notify.Transport = "kafka" }, wantErr: "NOTIFY_KAFKA_BROKERS"},
		{name: "rabbit_without_url", mutate: func(c *Server) { c.Notify.Transport = "rabbitmq" }, wantErr: "NOTIFY_RABBITMQ_URL"},
		{name: "unknown_transport", mutate: func(c *Server) { c.Notify.Transport = "smtp" }, wantErr: "unknown NOTIFY_TRANSPORT"},
		{name: "real_gateway_without_url", mutate: func(c *Server) { c.Gateway.Mock = false }, wantErr: "GATEWAY_URL"},
		{
			name: "real_gateway_without_key",
			mutate: func(c *Server) {
				c.Gateway.Mock = false
				c.Gateway.URL = "https://gateway.example.com"
			},
			wantErr: "GATEWAY_API_KEY",
		},
		{
			name: "real_gateway",
			mutate: func(c *Server) {
				c.Gateway = GatewayConfig{URL: "https://gateway.example.com", APIKey: "secret"}
			},
		},
		{name: "mock_gateway_without_key", mutate: func(c *Server) { c.Gateway.APIKey = "" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, 15*time.Minute, cfg.PaymentTTL)
	assert.Equal(t, 8, cfg.ConfirmAttempts)
}
