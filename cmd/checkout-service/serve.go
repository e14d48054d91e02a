package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/checkout-service/internal/audit"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/config"
	"github.com/vasiliy-maslov/checkout-service/internal/db"
	"github.com/vasiliy-maslov/checkout-service/internal/handler"
	"github.com/vasiliy-maslov/checkout-service/internal/mailer"
	"github.com/vasiliy-maslov/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
	"github.com/vasiliy-maslov/checkout-service/internal/transport"
)

func serveCmd(envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", Version).Msg("Checkout service starting...")

	if cfg.App.RunMigrations {
		if err := db.Migrate(cfg.Postgres, db.Up); err != nil {
			return err
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	hub := notification.NewHub(cfg.App.MailboxSize)
	var notificationOpts []notification.Option
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()

		relay := notification.NewRedisRelay(client, hub, cfg.Redis.Channel)
		if err := relay.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		go relay.Serve(ctx)
		notificationOpts = append(notificationOpts, notification.WithFanout(relay))
	} else {
		log.Info().Msg("REDIS_ADDR not set, notifications delivered in-process only")
	}
	notifications := notification.NewService(notification.NewRepository(pg.Pool), hub, notificationOpts...)

	var (
		gateway  checkout.Gateway         = checkout.Disabled{}
		verifier checkout.WebhookVerifier = checkout.Disabled{}
	)
	if cfg.Stripe.SecretKey != "" {
		stripeGateway := checkout.NewStripeGateway(checkout.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
		})
		gateway, verifier = stripeGateway, stripeGateway
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, payment endpoints disabled")
	}

	var recorder order.AuditRecorder = audit.LogRecorder{}
	if cfg.Mongo.Enabled() {
		mongoRecorder, err := audit.NewMongoRecorder(ctx, audit.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := mongoRecorder.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to disconnect from MongoDB")
			}
		}()
		recorder = mongoRecorder
	}

	orderOpts := []order.Option{
		order.WithMailer(mailer.NewSender(mailer.LogTransport{})),
		order.WithAuditRecorder(recorder),
	}
	if cfg.App.SuccessURL != "" && cfg.App.CancelURL != "" {
		orderOpts = append(orderOpts, order.WithCheckoutURLs(cfg.App.SuccessURL, cfg.App.CancelURL))
	}
	orders := order.NewService(order.NewStore(pg.Pool), gateway, notifications, orderOpts...)
	carts := cart.NewService(cart.NewRepository(pg.Pool))

	router := transport.NewRouter(transport.Handlers{
		Orders:        handler.NewOrderHandler(orders),
		Payments:      handler.NewPaymentHandler(orders, verifier),
		Cart:          handler.NewCartHandler(carts),
		Notifications: handler.NewNotificationHandler(notifications, cfg.App.StreamKeepAlive),
	})

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
