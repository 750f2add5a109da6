package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/cart"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/circuitbreaker"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/config"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/events"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/gateway"
	h "github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/http"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/session"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("redis connection failed", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))

	backend := gateway.NewClient(gateway.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.RequestTimeout,
		Breaker: circuitbreaker.Config{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
			HalfOpenRequests:    1,
		},
	}, log)

	opts := []session.Option{session.WithLogger(log)}
	if cfg.CartSyncEnabled {
		opts = append(opts, session.WithRemoteSync(backend))
	}
	kafkaEnabled := len(cfg.KafkaBrokers) > 0
	if kafkaEnabled {
		publisher := events.NewKafkaPublisher(cfg.KafkaTopic, log, cfg.KafkaBrokers...)
		defer publisher.Close()
		opts = append(opts, session.WithPublisher(publisher))
		log.Info("publishing checkout events", slog.String("topic", cfg.KafkaTopic))
	}

	sessions := session.NewManager(
		cart.NewRedisStorage(redisClient, cfg.CartTTL),
		backend,
		backend,
		session.Config{Checkout: cfg.Checkout(), SyncTimeout: cfg.CartSyncTimeout},
		opts...,
	)

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if kafkaEnabled {
		consumer := events.NewCheckoutConsumer(cfg.KafkaTopic, cfg.ConsumerGroup(), sessions, log, cfg.KafkaBrokers...)
		defer consumer.Close()
		go consumer.Run(consumeCtx)
	}

	router := h.NewRouter(sessions, backend, h.RouterConfig{
		RequestTimeout:  cfg.RequestTimeout,
		CheckoutTimeout: cfg.CheckoutTimeout(),
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.CheckoutTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront starting", slog.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopConsumer()
	// payments in flight are cancelled so their requests can return
	sessions.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}

	log.Info("server exited")
}
