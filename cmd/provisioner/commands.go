package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dmitrymomot/provisioner/internal/api"
	"github.com/dmitrymomot/provisioner/internal/config"
	"github.com/dmitrymomot/provisioner/internal/server"
	"github.com/dmitrymomot/provisioner/internal/store/postgres"
	"github.com/dmitrymomot/provisioner/pkg/db"
	"github.com/dmitrymomot/provisioner/pkg/job"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, the redirect endpoint and the background jobs",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			log.Info("configuration loaded", slog.Any("config", cfg))

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				if err := s.Close(closeCtx); err != nil {
					log.Error("failed to release resources", slog.Any("error", err))
				}
			}()

			svc, err := s.services()
			if err != nil {
				return err
			}
			runner, err := s.runner()
			if err != nil {
				return err
			}

			h := api.New(svc, api.Config{
				JWTSecret:      []byte(cfg.Auth.JWTSecret),
				JWTIssuer:      cfg.Auth.JWTIssuer,
				RequestTimeout: cfg.HTTP.RequestTimeout,
			},
				api.WithLogger(log),
				api.WithMetrics(s.metrics),
				api.WithHealth(s.health(runner)),
				api.WithEnqueuer(runner),
			)

			return server.Run(ctx, h, server.Config{
				Address:         cfg.HTTP.Addr,
				ReadTimeout:     cfg.HTTP.ReadTimeout,
				WriteTimeout:    cfg.HTTP.WriteTimeout,
				ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
				Logger:          log,
				StartupHooks:    []server.Hook{runner.Start},
				ShutdownHooks:   []server.Hook{runner.Stop},
				OnListen: func(addr net.Addr) {
					log.Info("accepting requests", slog.String("address", addr.String()), slog.String("zone", cfg.DNS.ZoneName))
				},
			})
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database and job queue migrations",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverSQLite {
				log.Info("sqlite schema is migrated when the database is opened", slog.String("path", cfg.Database.SQLitePath))
				return nil
			}

			pool, err := db.Connect(c.Context, cfg.Database.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(c.Context, pool, cfg.Database.Postgres.MigrationsTable, log); err != nil {
				return err
			}
			return job.MigrateRiver(c.Context, pool, log)
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit-dns",
		Usage: "compare the service zone with the local record mirror and print the report",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fail-on-drift",
				Usage: "exit with status 2 when the zone and the mirror disagree",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			s, err := build(c.Context, cfg, log)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(c.Context))

			ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
			defer cancel()
			report, err := s.records.Audit(ctx, s.zone)
			if err != nil {
				return err
			}
			s.metrics.DNSAuditReport(report)

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if c.Bool("fail-on-drift") && !report.Clean() {
				return cli.Exit("dns drift detected", 2)
			}
			return nil
		},
	}
}
