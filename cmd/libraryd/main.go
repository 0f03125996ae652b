// cmd/libraryd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libraryhub/internal/config"
	"libraryhub/internal/database"
	"libraryhub/pkg/logger"
)

// flags override the environment-derived configuration when set.
type flags struct {
	dsn      string
	logLevel string
	port     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "libraryd",
		Short:         "Library catalog, membership and lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.dsn, "dsn", "", "Postgres connection URL (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	serve := newServeCmd(&f)
	serve.Flags().StringVar(&f.port, "port", "", "HTTP port (overrides PORT)")

	root.AddCommand(serve, newMigrateCmd(&f), newSweepCmd(&f))
	return root
}

// env is what every subcommand needs before doing its own work.
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *sqlx.DB
}

func setup(ctx context.Context, f *flags) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.dsn != "" {
		cfg.DatabaseURL = f.dsn
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.port != "" {
		cfg.Port = f.port
	}

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	db, err := database.Open(ctx, database.Options{
		Driver:  cfg.DBDriver,
		DSN:     cfg.DatabaseURL,
		MaxOpen: cfg.DBMaxOpen,
		MaxIdle: cfg.DBMaxIdle,
	})
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) close() {
	e.db.Close()
	e.log.Sync()
}
