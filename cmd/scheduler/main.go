// Command scheduler runs the session expiry sweep on its own, for deployments
// that set JANITOR_IN_PROCESS=false on the api. Several replicas may run: a
// Postgres advisory lock lets exactly one of them sweep per tick.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/config"
	"github.com/SirClappington/rollcall/internal/janitor"
	"github.com/SirClappington/rollcall/internal/logging"
	"github.com/SirClappington/rollcall/internal/storage"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreBackend != "postgres" {
		log.Fatal("scheduler needs STORE_BACKEND=postgres; the memory store only lives inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() { _ = rdb.Close() }()

	store := storage.NewCached(storage.New(db), rdb, cfg.Session.CacheTTL, log.Named("store"))
	if err := store.Ping(ctx); err != nil {
		log.Fatal("store unreachable", zap.Error(err))
	}

	log.Info("scheduler started", zap.Duration("interval", cfg.JanitorInterval))
	if err := janitor.New(store, cfg.JanitorInterval, log).Run(ctx); err != nil {
		log.Fatal("janitor", zap.Error(err))
	}
	log.Info("scheduler stopped")
}
