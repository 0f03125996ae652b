// cmd/libraryd/commands.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libraryhub/internal/circulation"
	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/events"
	"libraryhub/internal/server"
	"libraryhub/pkg/telemetry"
)

const tracerShutdownTimeout = 5 * time.Second

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the schema and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, f)
			if err != nil {
				return err
			}
			defer e.close()

			shutdownTracer, err := telemetry.InitTracer(ctx, e.cfg.ServiceName, e.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
				defer cancel()
				if err := shutdownTracer(sctx); err != nil {
					e.log.Warn("Tracer shutdown failed", zap.Error(err))
				}
			}()

			if err := database.Migrate(ctx, e.db); err != nil {
				return err
			}

			pub, err := events.New(e.cfg.RabbitMQURL, e.log)
			if err != nil {
				return err
			}
			defer pub.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				collectors.NewDBStatsCollector(e.db.DB, e.cfg.ServiceName),
			)

			srv := server.New(server.Deps{
				DB:        e.db,
				Config:    e.cfg,
				Clock:     clock.System(),
				Publisher: pub,
				Registry:  reg,
				Log:       e.log,
			})
			return srv.ListenAndServe(ctx, ":"+e.cfg.Port)
		},
	}
}

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer e.close()

			if err := database.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			e.log.Info("Schema is up to date")
			return nil
		},
	}
}

// newSweepCmd runs the overdue sweeper once, for cron-style scheduling.
func newSweepCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark active loans past their due date as overdue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, f)
			if err != nil {
				return err
			}
			defer e.close()

			pub, err := events.New(e.cfg.RabbitMQURL, e.log)
			if err != nil {
				return err
			}
			defer pub.Close()

			svc := server.NewCirculation(server.Deps{
				DB:        e.db,
				Config:    e.cfg,
				Clock:     clock.System(),
				Publisher: pub,
				Registry:  prometheus.NewRegistry(),
				Log:       e.log,
			})
			result, err := svc.AgeCheck(ctx)
			if err != nil {
				return err
			}
			return sweepError(result)
		},
	}
}

// sweepError fails the command when any loan could not be aged, so a cron
// wrapper sees a non-zero exit.
func sweepError(result *circulation.SweepResult) error {
	if result.Failed > 0 {
		return fmt.Errorf("overdue sweep left %d of %d loans unprocessed", result.Failed, result.Scanned)
	}
	return nil
}
