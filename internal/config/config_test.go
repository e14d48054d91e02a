package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/checkout-service/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "checkout")
	t.Setenv("DB_NAME", "checkout")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 256, cfg.App.MailboxSize)
	assert.Equal(t, 25*time.Second, cfg.App.StreamKeepAlive)
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, time.Hour, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, "notifications", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Mongo.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("RUN_MIGRATIONS", "true")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_MAX_CONN_LIFETIME", "30m")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.True(t, cfg.App.RunMigrations)
	assert.Equal(t, int32(25), cfg.Postgres.MaxConns)
	assert.Equal(t, 30*time.Minute, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Mongo.Enabled())
	assert.True(t, cfg.Log.Pretty)
}

func TestLoad_EnvFile(t *testing.T) {
	// Register restoration, then clear so the file is the only source.
	for _, key := range []string{"DB_HOST", "DB_USER", "DB_NAME", "DB_PASSWORD"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "DB_HOST=db\nDB_USER=app\nDB_NAME=shop\nDB_PASSWORD=p@ss/word\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Postgres.Host)
	assert.Equal(t, "pgx5://app:p%40ss%2Fword@db:5432/shop?sslmode=disable", cfg.Postgres.DSN())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	setRequired(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))

	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			App:      config.AppConfig{MailboxSize: 256},
			Postgres: config.PostgresConfig{Host: "h", User: "u", DBName: "d", MaxConns: 10, MinConns: 2},
			Log:      config.LogConfig{Level: "debug"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *config.Config) {}},
		{name: "missing_postgres", mutate: func(c *config.Config) { c.Postgres.Host, c.Postgres.DBName = "", "" }, wantErr: "DB_HOST, DB_NAME"},
		{name: "pool_bounds", mutate: func(c *config.Config) { c.Postgres.MinConns = 20 }, wantErr: "exceeds"},
		{name: "stripe_without_webhook_secret", mutate: func(c *config.Config) { c.Stripe.SecretKey = "sk" }, wantErr: "STRIPE_WEBHOOK_SECRET"},
		{name: "mailbox_size", mutate: func(c *config.Config) { c.App.MailboxSize = 0 }, wantErr: "NOTIFICATION_MAILBOX_SIZE"},
		{name: "log_level", mutate: func(c *config.Config) { c.Log.Level = "chatty" }, wantErr: "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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
