package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"homework-review/api/internal/diag"
	"homework-review/api/internal/review"
	"homework-review/api/internal/vision"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Grader is the review service as the bot sees it.
type Grader interface {
	Grade(ctx context.Context, req review.Request) (*review.Report, error)
}

const (
	defaultDebounce = 1200 * time.Millisecond
	maxMessageLen   = 3900
)

type Router struct {
	Bot      Bot
	Grader   Grader
	Reporter *diag.Reporter
	Engines  *vision.Engines
	HTTP     *http.Client
	Log      *slog.Logger
	// Debounce is how long to wait for more pages of an album.
	Debounce time.Duration
	// Timeout bounds one grading run.
	Timeout time.Duration

	chatEngine sync.Map // chatID -> engine name

	mu      sync.Mutex
	batches map[string]*photoBatch
	wg      sync.WaitGroup
}

func (r *Router) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// HandleUpdate dispatches one update: commands, photos and image documents.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	cid := msg.Chat.ID

	switch {
	case msg.IsCommand():
		r.handleCommand(cid, msg)
	case len(msg.Photo) > 0:
		ph := msg.Photo[len(msg.Photo)-1]
		r.acceptPage(ctx, cid, msg.MediaGroupID, ph.FileID)
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		r.acceptPage(ctx, cid, msg.MediaGroupID, msg.Document.FileID)
	default:
		r.send(cid, "Пришли фото проверяемой работы, я отмечу верные и неверные ответы.")
	}
}

func (r *Router) handleCommand(cid int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		r.send(cid, "Пришли фото работы (можно несколько страниц альбомом), и я проверю ответы.\n"+
			"Команды: /health, /engine")
	case "health":
		r.send(cid, "✅ OK")
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "Неизвестная команда")
	}
}

// handleEngineCommand показывает или переключает движок для чата.
//
//	/engine
//	/engine gemini
func (r *Router) handleEngineCommand(cid int64, args string) {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		eng, err := r.Engines.Get(r.engineName(cid))
		if err != nil {
			r.send(cid, "Движок не настроен.")
			return
		}
		r.send(cid, fmt.Sprintf("Текущий движок: %s (%s)\nДоступны: %s",
			eng.Name(), eng.Model(), strings.Join(r.Engines.Names(), " | ")))
		return
	}
	eng, err := r.Engines.Get(name)
	if err != nil {
		r.send(cid, "Неизвестный движок. Доступны: "+strings.Join(r.Engines.Names(), " | "))
		return
	}
	r.chatEngine.Store(cid, eng.Name())
	r.send(cid, fmt.Sprintf("✅ Движок: %s (%s).", eng.Name(), eng.Model()))
}

func (r *Router) engineName(cid int64) string {
	if v, ok := r.chatEngine.Load(cid); ok {
		return v.(string)
	}
	return ""
}

// Wait blocks until scheduled album runs have finished.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log().Warn("telegram send failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
}

// reportFailure logs err through the reporter and tells the user the trace id.
func (r *Router) reportFailure(chatID int64, err error, payload any) {
	rp := r.Reporter
	if rp == nil {
		rp = diag.New(r.log())
	}
	rec, ok := rp.Capture(err, "TELEGRAM", fmt.Sprintf("chat/%d", chatID), payload)
	if !ok {
		r.send(chatID, "Не удалось проверить работу.")
		return
	}
	if rec.StatusCode < 500 {
		r.send(chatID, fmt.Sprintf("Не удалось проверить работу: %s\nКод ошибки: %s", rec.Message, rec.TraceID))
		return
	}
	r.send(chatID, "Не удалось проверить работу, попробуй ещё раз позже.\nКод ошибки: "+rec.TraceID)
}
