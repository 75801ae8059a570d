// Package app wires config into the engines, storage and review service
// shared by the HTTP server and the bot.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"homework-review/api/internal/config"
	"homework-review/api/internal/metrics"
	"homework-review/api/internal/review"
	"homework-review/api/internal/store"
	"homework-review/api/internal/util"
	"homework-review/api/internal/vision"
	"homework-review/api/internal/vision/ark"
	"homework-review/api/internal/vision/claude"
	"homework-review/api/internal/vision/gemini"
)

// Engines builds every engine that has an API key. Each one is rate limited
// and traced.
func Engines(cfg *config.Config) *vision.Engines {
	var engs []vision.Engine
	add := func(e vision.Engine) {
		engs = append(engs, vision.Trace(vision.Limit(e, cfg.LLMRPS, cfg.LLMBurst)))
	}
	if cfg.ArkAPIKey != "" {
		add(ark.New(cfg.ArkAPIKey, cfg.ArkBaseURL, cfg.ArkModel))
	}
	if cfg.GeminiAPIKey != "" {
		add(gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel))
	}
	if cfg.AnthropicAPIKey != "" {
		add(claude.New(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	}
	return vision.NewEngines(cfg.DefaultEngine, engs...)
}

// ResolveDSN prefers the configured URL; otherwise it builds one from
// POSTGRES_* / PG* env vars when PGHOST is set. "" means no database.
func ResolveDSN(configured string) string {
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	host := strings.TrimSpace(os.Getenv("PGHOST"))
	if host == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getenvDefault("POSTGRES_USER", "homework"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(host, getenvDefault("PGPORT", "5432")),
		Path:     "/" + getenvDefault("POSTGRES_DB", "homework"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// SafeDSN describes a DSN for logs without the password.
func SafeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	user := u.User.Username()
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}

// OpenDB opens the pool, pings it and makes sure the cache table exists.
func OpenDB(ctx context.Context, dsn string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	// пул под нагрузку до ~20 rps
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := store.NewReviewRepo(db).EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("db connected", slog.String("dsn", SafeDSN(dsn)))
	return db, nil
}

// Service builds the review service. db may be nil: grading then runs
// without the cache.
func Service(cfg *config.Config, engs *vision.Engines, db *sql.DB, mon *metrics.Monitor, log *slog.Logger) (*review.Service, error) {
	prompt, err := util.LoadPrompt(cfg.PromptFile, review.DefaultPrompt)
	if err != nil {
		return nil, err
	}
	o := review.Options{
		CacheTTL:  cfg.ReviewCacheTTL,
		Monitor:   mon,
		Prompt:    prompt,
		Threshold: cfg.SimilarityThreshold,
		Timeout:   cfg.RequestTimeout,
		Logger:    log,
	}
	if db != nil {
		o.Cache = store.NewReviewRepo(db)
	}
	return review.New(engs, o), nil
}

// PurgeLoop drops cache rows older than ttl every interval until ctx ends.
func PurgeLoop(ctx context.Context, repo *store.ReviewRepo, ttl, every time.Duration, log *slog.Logger) {
	if ttl <= 0 || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeOlderThan(ctx, ttl)
			if err != nil {
				log.Warn("cache purge failed", slog.Any("err", err))
				continue
			}
			if n > 0 {
				log.Info("cache purged", slog.Int64("rows", n))
			}
		}
	}
}
