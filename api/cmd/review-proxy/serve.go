package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"homework-review/api/internal/app"
	"homework-review/api/internal/config"
	"homework-review/api/internal/diag"
	"homework-review/api/internal/handle"
	"homework-review/api/internal/httpserver"
	"homework-review/api/internal/logging"
	"homework-review/api/internal/metrics"
	"homework-review/api/internal/store"
)

func newServeCmd() *cobra.Command {
	var purgeEvery time.Duration

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP review service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv, err := newServer(ctx, cfg, reg, log)
			if err != nil {
				return err
			}
			if srv.db != nil {
				defer srv.db.Close()
				go app.PurgeLoop(ctx, store.NewReviewRepo(srv.db), cfg.ReviewCacheTTL, purgeEvery, log)
			}
			return httpserver.StartHTTP(ctx, cfg.Addr(), srv.handler, log)
		},
	}
	c.Flags().DurationVar(&purgeEvery, "purge-every", time.Hour, "how often stale cache rows are deleted (0 disables)")
	return c
}

type server struct {
	handler http.Handler
	monitor *metrics.Monitor
	db      *sql.DB // nil without a database
}

// newServer wires storage, engines and routes. Startup time and memory are
// recorded on the monitor under "startup".
func newServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, log *slog.Logger) (*server, error) {
	mon := metrics.NewMonitor(reg, log)
	mon.StartTimer("startup")

	var db *sql.DB
	if dsn := app.ResolveDSN(cfg.DatabaseURL); dsn != "" {
		var err error
		db, err = app.OpenDB(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("no database configured, review cache disabled")
	}

	engs := app.Engines(cfg)
	svc, err := app.Service(cfg, engs, db, mon, log)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	log.Info("engines ready", slog.Any("engines", engs.Names()), slog.String("default", engs.Default()))

	h := httpserver.NewHandler(httpserver.Options{
		Handle:         handle.New(svc, engs, mon),
		Reporter:       diag.New(log, diag.WithRegisterer(reg)),
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxUploadBytes(),
	})

	mon.EndTimer("startup")
	mon.LogMemory("startup")
	return &server{handler: h, monitor: mon, db: db}, nil
}
