// Command migrate applies the SQL migrations in MIGRATIONS_DIR.
//
//	migrate [up|down|status|version|redo]
package main

import (
	"database/sql"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/config"
	"github.com/SirClappington/rollcall/internal/logging"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cmd, args := "up", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open postgres", zap.Error(err))
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("goose dialect", zap.Error(err))
	}
	if err := goose.Run(cmd, db, cfg.MigrationsDir, args...); err != nil {
		log.Fatal("migrate", zap.String("command", cmd), zap.Error(err))
	}
	log.Info("migrations done", zap.String("command", cmd), zap.String("dir", cfg.MigrationsDir))
}
