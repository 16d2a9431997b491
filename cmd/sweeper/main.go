package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/gigboard/internal/config"
	"github.com/SirClappington/gigboard/internal/event"
	"github.com/SirClappington/gigboard/internal/queue"
	"github.com/SirClappington/gigboard/internal/storage"
	"github.com/SirClappington/gigboard/internal/sweeper"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	store := storage.New(db)

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	notify := queue.New(rdb)

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer conn.Close()
	bus, err := event.NewEmitter(conn, cfg.EventExchange)
	if err != nil {
		logger.Fatal("init event emitter", zap.Error(err))
	}

	sw := sweeper.New(store, bus, notify, logger, cfg.SweepBatch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sw.RunExpiry(ctx, time.Duration(cfg.ExpirySweepSec)*time.Second)
	})
	g.Go(func() error {
		return sw.RunTimeout(ctx, time.Duration(cfg.TimeoutSweepSec)*time.Second)
	})

	logger.Info("sweepers running",
		zap.Int("expiry_interval_sec", cfg.ExpirySweepSec),
		zap.Int("timeout_interval_sec", cfg.TimeoutSweepSec))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("sweeper stopped", zap.Error(err))
	}
}
