// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libraryhub/internal/chaos"
	"libraryhub/internal/clients"
	"libraryhub/internal/config"
	"libraryhub/internal/database"
	"libraryhub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL     string
		dsn         string
		concurrency int
		pause       time.Duration
	)
	cmd := &cobra.Command{
		Use:           "chaos",
		Short:         "Run the lending game day against a running libraryd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dsn != "" {
				cfg.DatabaseURL = dsn
			}

			log := logger.NewLogger("libraryhub-chaos", cfg.LogLevel)
			defer log.Sync()

			db, err := database.Open(ctx, database.Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, MaxOpen: 2 * concurrency})
			if err != nil {
				return err
			}
			defer db.Close()

			hc := &http.Client{Timeout: 30 * time.Second}
			target := chaos.Target{
				DB:             db,
				Catalog:        clients.NewCatalogClient(baseURL, hc),
				Members:        clients.NewMembershipClient(baseURL, hc),
				Loans:          clients.NewCirculationClient(baseURL, hc),
				MaxActiveLoans: cfg.MaxActiveLoans,
			}

			engine := chaos.NewEngine(log)
			chaos.RegisterDefaults(engine, target, concurrency)

			scenarios := engine.Experiments()
			held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
				Name:      "Lending Game Day",
				Date:      time.Now(),
				Scenarios: scenarios,
				Pause:     pause,
			})
			if err != nil {
				return err
			}
			log.Info("Game day finished", zap.Int("held", held), zap.Int("scenarios", len(scenarios)))
			if held < len(scenarios) {
				return fmt.Errorf("%d of %d hypotheses did not hold", len(scenarios)-held, len(scenarios))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "libraryd base URL")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection URL used by the probes (overrides DATABASE_URL)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "concurrent requests per experiment")
	cmd.Flags().DurationVar(&pause, "pause", 5*time.Second, "pause between experiments")
	return cmd
}
