package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"homework-review/api/internal/apperr"
)

// ErrNotFound означает промах кэша: записи нет, она устарела или битая.
var ErrNotFound = sql.ErrNoRows

type ReviewRepo struct{ DB *sql.DB }

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{DB: db} }

// ReviewRow is one cached model answer.
type ReviewRow struct {
	ID        int64
	CreatedAt time.Time
	ImageHash string
	Engine    string
	Model     string
	Source    string
	ChatID    int64
	RawText   string
	// Report is the graded JSON, nil when only the raw answer was cached.
	Report json.RawMessage
}

var schema = []string{`
create table if not exists review_cache (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  image_hash  text not null,
  engine      text not null,
  model       text not null,
  source      text not null default 'http',
  chat_id     bigint,
  raw_text    text not null,
  report_json jsonb,
  unique (image_hash, engine, model)
)`,
	`create index if not exists review_cache_created_at_idx on review_cache (created_at)`,
}

// EnsureSchema создаёт таблицу кэша, если её ещё нет.
func (r *ReviewRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return apperr.Storage("review cache schema failed", err)
		}
	}
	return nil
}

// Find возвращает самую свежую запись по (image_hash, engine, model).
// Если maxAge > 0 и запись старше, возвращаем ErrNotFound, чтобы вызвать модель заново.
func (r *ReviewRepo) Find(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*ReviewRow, error) {
	const q = `
select id, created_at, image_hash, engine, model, source,
       coalesce(chat_id, 0), raw_text, report_json
from review_cache
where image_hash = $1 and engine = $2 and model = $3
order by created_at desc
limit 1`
	var (
		row    ReviewRow
		report []byte
	)
	err := r.DB.QueryRowContext(ctx, q, imageHash, engine, model).Scan(
		&row.ID, &row.CreatedAt, &row.ImageHash, &row.Engine, &row.Model, &row.Source,
		&row.ChatID, &row.RawText, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("review cache lookup failed", err)
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if len(report) > 0 {
		// битый JSON считаем промахом
		if !json.Valid(report) {
			return nil, ErrNotFound
		}
		row.Report = report
	}
	return &row, nil
}

// Upsert сохраняет ответ модели; существующая запись по ключу перезаписывается
// и считается свежей.
func (r *ReviewRepo) Upsert(ctx context.Context, row ReviewRow) error {
	if row.Source == "" {
		row.Source = "http"
	}
	var report any
	if len(row.Report) > 0 {
		report = []byte(row.Report)
	}
	var chatID any
	if row.ChatID != 0 {
		chatID = row.ChatID
	}
	const q = `
insert into review_cache (image_hash, engine, model, source, chat_id, raw_text, report_json)
values ($1, $2, $3, $4, $5, $6, $7)
on conflict (image_hash, engine, model) do update
set created_at = now(),
    source = excluded.source,
    chat_id = excluded.chat_id,
    raw_text = excluded.raw_text,
    report_json = coalesce(excluded.report_json, review_cache.report_json)`
	if _, err := r.DB.ExecContext(ctx, q,
		row.ImageHash, row.Engine, row.Model, row.Source, chatID, row.RawText, report,
	); err != nil {
		return apperr.Storage("review cache write failed", err)
	}
	return nil
}

// PurgeOlderThan удаляет старые записи, чтобы не раздувать БД.
func (r *ReviewRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.WrongCall("olderThan must be > 0", nil)
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from review_cache where created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Storage("review cache purge failed", err)
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
