package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Log      LogConfig      `mapstructure:"log"`
}

type AppConfig struct {
	Port            string        `mapstructure:"port"`
	SuccessURL      string        `mapstructure:"success_url"`
	CancelURL       string        `mapstructure:"cancel_url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MailboxSize     int           `mapstructure:"mailbox_size"`
	StreamKeepAlive time.Duration `mapstructure:"stream_keep_alive"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Channel  string `mapstructure:"channel"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

func (c MongoConfig) Enabled() bool { return c.URI != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"app.port":              "APP_PORT",
	"app.success_url":       "CHECKOUT_SUCCESS_URL",
	"app.cancel_url":        "CHECKOUT_CANCEL_URL",
	"app.run_migrations":    "RUN_MIGRATIONS",
	"app.shutdown_timeout":  "SHUTDOWN_TIMEOUT",
	"app.mailbox_size":      "NOTIFICATION_MAILBOX_SIZE",
	"app.stream_keep_alive": "NOTIFICATION_KEEP_ALIVE",

	"postgres.host":              "DB_HOST",
	"postgres.port":              "DB_PORT",
	"postgres.user":              "DB_USER",
	"postgres.password":          "DB_PASSWORD",
	"postgres.dbname":            "DB_NAME",
	"postgres.sslmode":           "DB_SSLMODE",
	"postgres.max_conns":         "DB_MAX_CONNS",
	"postgres.min_conns":         "DB_MIN_CONNS",
	"postgres.max_conn_lifetime": "DB_MAX_CONN_LIFETIME",
	"postgres.migrations_path":   "DB_MIGRATIONS_PATH",

	"stripe.secret_key":     "STRIPE_SECRET_KEY",
	"stripe.webhook_secret": "STRIPE_WEBHOOK_SECRET",
	"stripe.currency":       "STRIPE_CURRENCY",

	"redis.addr":      "REDIS_ADDR",
	"redis.password":  "REDIS_PASSWORD",
	"redis.db":        "REDIS_DB",
	"redis.pool_size": "REDIS_POOL_SIZE",
	"redis.channel":   "REDIS_CHANNEL",

	"mongo.uri":        "MONGO_URI",
	"mongo.database":   "MONGO_DATABASE",
	"mongo.collection": "MONGO_COLLECTION",

	"log.level":  "LOG_LEVEL",
	"log.pretty": "LOG_PRETTY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.run_migrations", false)
	v.SetDefault("app.shutdown_timeout", 15*time.Second)
	v.SetDefault("app.mailbox_size", 256)
	v.SetDefault("app.stream_keep_alive", 25*time.Second)

	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("postgres.migrations_path", "migrations")

	v.SetDefault("stripe.currency", "usd")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel", "notifications")

	v.SetDefault("mongo.database", "checkout")
	v.SetDefault("mongo.collection", "audit_logs")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads an optional .env file, then the environment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.Postgres.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Postgres.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Postgres.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("config: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return errors.New("config: STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if c.App.MailboxSize <= 0 {
		return fmt.Errorf("config: NOTIFICATION_MAILBOX_SIZE must be positive, got %d", c.App.MailboxSize)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: invalid LOG_LEVEL %q: %w", c.Log.Level, err)
	}
	return nil
}

// DSN returns a pgx5 URL usable by the migrator.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// ConnString returns a keyword/value connection string for pgxpool.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
