package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/checkout-service/internal/config"
)

const serviceName = "checkout-service"

var Version = "dev"

func main() {
	var envPath string

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Cart, checkout, order reconciliation and live notifications",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "path to a .env file (ignored when missing)")

	rootCmd.AddCommand(serveCmd(&envPath))
	rootCmd.AddCommand(migrateCmd(&envPath))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// loadConfig reads configuration and configures the global logger from it.
func loadConfig(envPath string) (*config.Config, error) {
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", serviceName).Logger()
}
