package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/rollcall/internal/api"
	"github.com/SirClappington/rollcall/internal/attendance"
	"github.com/SirClappington/rollcall/internal/config"
	"github.com/SirClappington/rollcall/internal/janitor"
	"github.com/SirClappington/rollcall/internal/logging"
	"github.com/SirClappington/rollcall/internal/mirror"
	"github.com/SirClappington/rollcall/internal/queue"
	"github.com/SirClappington/rollcall/internal/storage"
	"github.com/SirClappington/rollcall/internal/storage/memstore"
)

type backend interface {
	attendance.SessionStore
	attendance.RecordStore
	attendance.ViolationStore
	api.StatsProvider
	janitor.Expirer
}

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	q := queue.New("sheets",
		queue.WithConcurrency(cfg.Queue.Concurrency),
		queue.WithMaxSize(cfg.Queue.MaxSize),
		queue.WithRetries(cfg.Queue.Retries),
		queue.WithRetryDelay(cfg.Queue.RetryDelay),
		queue.WithTaskTimeout(cfg.Queue.TaskTimeout),
		queue.WithLogger(log),
	)

	deps := attendance.Deps{
		Sessions:      store,
		Records:       store,
		Violations:    store,
		Queue:         q,
		Logger:        log.Named("attendance"),
		DefaultRadius: cfg.Session.DefaultRadius,
		DefaultTTL:    cfg.Session.DefaultTTL,
		MaxTTL:        cfg.Session.MaxTTL,
	}
	if cfg.MirrorURL != "" {
		deps.Mirror = mirror.New(cfg.MirrorURL, cfg.MirrorToken, cfg.MirrorTimeout)
	} else {
		log.Warn("MIRROR_URL not set, spreadsheet mirroring disabled")
	}
	svc := attendance.NewService(deps)

	srv := api.NewServer(cfg.APIAddr, api.NewRouter(api.Options{
		Service: svc,
		Queues:  []api.QueueReporter{q},
		Store:   store,
		Logger:  log.Named("http"),

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		// In-flight mirror writes get the rest of the deadline.
		if werr := q.Wait(sctx); werr != nil {
			st := q.Stats()
			log.Warn("sheets queue not drained, pending writes lost",
				zap.Int("pending", st.Queued), zap.Int("active", st.Active))
		}
		return errors.Wrap(err, "http shutdown")
	})
	if cfg.JanitorInProcess {
		j := janitor.New(store, cfg.JanitorInterval, log)
		g.Go(func() error { return j.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (backend, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory store, nothing survives a restart")
		return memstore.New(), func() {}, nil
	case "postgres":
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "postgres pool")
		}
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		store := storage.NewCached(storage.New(db), rdb, cfg.Session.CacheTTL, log.Named("store"))
		if err := store.Ping(ctx); err != nil {
			db.Close()
			_ = rdb.Close()
			return nil, nil, err
		}
		return store, func() {
			_ = rdb.Close()
			db.Close()
		}, nil
	}
	return nil, nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}
