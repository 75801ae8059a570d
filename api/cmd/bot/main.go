package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"homework-review/api/internal/app"
	"homework-review/api/internal/config"
	"homework-review/api/internal/diag"
	"homework-review/api/internal/httpserver"
	"homework-review/api/internal/logging"
	"homework-review/api/internal/metrics"
	"homework-review/api/internal/store"
	"homework-review/api/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bot stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Postgres (необязателен: без него бот работает без кэша) ---
	var db *sql.DB
	if dsn := app.ResolveDSN(cfg.DatabaseURL); dsn != "" {
		db, err = app.OpenDB(ctx, dsn, log)
		if err != nil {
			return err
		}
		defer db.Close()
	} else {
		log.Warn("no database configured, review cache disabled")
	}

	mon := metrics.NewMonitor(reg, log)
	engs := app.Engines(cfg)
	svc, err := app.Service(cfg, engs, db, mon, log)
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	log.Info("telegram authorized", slog.String("bot", bot.Self.UserName))

	r := &telegram.Router{
		Bot:      bot,
		Grader:   svc,
		Reporter: diag.New(log, diag.WithRegisterer(reg)),
		Engines:  engs,
		Log:      log,
		Timeout:  cfg.RequestTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.StartHTTP(ctx, cfg.Addr(), healthMux(db, reg), log)
	})
	g.Go(func() error {
		r.Poll(ctx)
		r.Wait()
		return nil
	})
	if db != nil {
		g.Go(func() error {
			app.PurgeLoop(ctx, store.NewReviewRepo(db), cfg.ReviewCacheTTL, time.Hour, log)
			return nil
		})
	}
	return g.Wait()
}

// healthMux отдаёт /healthz (с проверкой БД) и /metrics.
func healthMux(db *sql.DB, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
