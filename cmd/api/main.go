package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/SirClappington/gigboard/internal/api"
	"github.com/SirClappington/gigboard/internal/config"
	"github.com/SirClappington/gigboard/internal/event"
	"github.com/SirClappington/gigboard/internal/storage"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := newLogger(cfg.AppEnv)
	defer func() { _ = logger.Sync() }()

	migrate(cfg.PostgresDSN, logger)

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	store := storage.New(db)

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer conn.Close()
	bus, err := event.NewEmitter(conn, cfg.EventExchange)
	if err != nil {
		logger.Fatal("init event emitter", zap.Error(err))
	}

	h := api.NewHandler(store, bus, logger)

	rtr := chi.NewRouter()
	rtr.Use(chimw.RequestID, chimw.Recoverer)
	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rtr.Route("/v1", func(r chi.Router) {
		r.Use(api.Identity([]byte(cfg.JWTSigningKey)))
		r.Mount("/", h.Routes())
	})

	logger.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

func migrate(dsn string, logger *zap.Logger) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal("open postgres for migration", zap.Error(err))
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal("set goose dialect", zap.Error(err))
	}
	if err := goose.Up(db, "migrations"); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "production" {
		l, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return l
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return l
}
