package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/diag"
	"homework-review/api/internal/review"
	"homework-review/api/internal/vision"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []string
	fileURL string
	updates [][]tgbotapi.Update
	errs    []error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if fileID == "missing" {
		return "", errors.New("file not found")
	}
	return b.fileURL + "/" + fileID, nil
}

func (b *fakeBot) GetUpdates(tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	if len(b.updates) == 0 {
		return nil, nil
	}
	u := b.updates[0]
	b.updates = b.updates[1:]
	return u, nil
}

func (b *fakeBot) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type fakeGrader struct {
	mu   sync.Mutex
	reqs []review.Request
	rep  *review.Report
	err  error
}

func (g *fakeGrader) Grade(_ context.Context, req review.Request) (*review.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.rep, g.err
}

type nopEngine string

func (e nopEngine) Name() string  { return string(e) }
func (e nopEngine) Model() string { return string(e) + "-1" }
func (e nopEngine) Complete(context.Context, []byte, string, string) (string, error) {
	return "[]", nil
}

func pngPage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestRouter(t *testing.T, g *fakeGrader) (*Router, *fakeBot, *bytes.Buffer) {
	t.Helper()
	page := pngPage(t, 40, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/gone") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(page)
	}))
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))
	bot := &fakeBot{fileURL: srv.URL}
	r := &Router{
		Bot:      bot,
		Grader:   g,
		Reporter: diag.New(log, diag.WithIDs(func() string { return "trace-42" })),
		Engines:  vision.NewEngines("ark", nopEngine("ark"), nopEngine("gemini")),
		HTTP:     srv.Client(),
		Log:      log,
		Debounce: 20 * time.Millisecond,
	}
	return r, bot, &logs
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func photo(chatID int64, group, fileID string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:         &tgbotapi.Chat{ID: chatID},
		MediaGroupID: group,
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 10, Height: 10},
			{FileID: fileID, Width: 40, Height: 30},
		},
	}}
}

func TestHandleUpdate_Commands(t *testing.T) {
	r, bot, _ := newTestRouter(t, &fakeGrader{})
	ctx := context.Background()

	r.HandleUpdate(ctx, command(1, "/health"))
	r.HandleUpdate(ctx, command(1, "/engine"))
	r.HandleUpdate(ctx, command(1, "/engine gemini"))
	r.HandleUpdate(ctx, command(1, "/engine nope"))
	r.HandleUpdate(ctx, command(1, "/whatever"))
	r.HandleUpdate(ctx, tgbotapi.Update{})

	msgs := bot.messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "✅ OK", msgs[0])
	assert.Contains(t, msgs[1], "Текущий движок: ark (ark-1)")
	assert.Contains(t, msgs[2], "gemini (gemini-1)")
	assert.Contains(t, msgs[3], "ark | gemini")
	assert.Equal(t, "Неизвестная команда", msgs[4])
	assert.Equal(t, "gemini", r.engineName(1))
	assert.Equal(t, "", r.engineName(2))
}

func TestHandleUpdate_PhotoIsGraded(t *testing.T) {
	g := &fakeGrader{rep: &review.Report{
		Total: 1, Correct: 1,
		Items: []review.Item{{ID: "1", Result: true, Question: "2+2", Answer: "4", CorrectAnswer: "4", Similarity: 1, Consistent: true}},
	}}
	r, bot, _ := newTestRouter(t, g)
	r.chatEngine.Store(int64(7), "gemini")

	r.HandleUpdate(context.Background(), photo(7, "", "page-1"))
	r.Wait()

	require.Len(t, g.reqs, 1)
	req := g.reqs[0]
	assert.Equal(t, "gemini", req.Engine)
	assert.Equal(t, "telegram", req.Source)
	assert.Equal(t, int64(7), req.ChatID)
	assert.Equal(t, pngPage(t, 40, 30), req.Image)

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Фото принято")
	assert.Contains(t, msgs[1], "✅ 1. 2+2")
}

func TestHandleUpdate_AlbumIsStitched(t *testing.T) {
	g := &fakeGrader{rep: &review.Report{}}
	r, bot, _ := newTestRouter(t, g)
	ctx := context.Background()

	r.HandleUpdate(ctx, photo(3, "album", "p1"))
	r.HandleUpdate(ctx, photo(3, "album", "p2"))
	r.Wait()

	require.Len(t, g.reqs, 1)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(g.reqs[0].Image))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 60, cfg.Height)

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "не нашлось заданий")
}

func TestHandleUpdate_ImageDocument(t *testing.T) {
	g := &fakeGrader{rep: &review.Report{}}
	r, bot, _ := newTestRouter(t, g)

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 5},
		Document: &tgbotapi.Document{FileID: "scan", MimeType: "image/png"},
	}})
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 5},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"},
	}})
	r.Wait()

	assert.Len(t, g.reqs, 1)
	var hinted bool
	for _, m := range bot.messages() {
		hinted = hinted || strings.HasPrefix(m, "Пришли фото")
	}
	assert.True(t, hinted)
}

func TestHandleUpdate_GradeFailureReportsTraceID(t *testing.T) {
	g := &fakeGrader{err: apperr.ExternalService("model timed out", context.DeadlineExceeded)}
	r, bot, logs := newTestRouter(t, g)

	r.HandleUpdate(context.Background(), photo(9, "", "page"))
	r.Wait()

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "Код ошибки: trace-42")
	assert.Contains(t, logs.String(), "[TELEGRAM]chat/9")
}

func TestHandleUpdate_ClientFailureShowsMessage(t *testing.T) {
	g := &fakeGrader{err: apperr.InvalidParams("unknown engine", nil)}
	r, bot, _ := newTestRouter(t, g)

	r.HandleUpdate(context.Background(), photo(9, "", "page"))
	r.Wait()

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "unknown engine")
	assert.Contains(t, msgs[1], "trace-42")
}

func TestHandleUpdate_DownloadFailure(t *testing.T) {
	g := &fakeGrader{}
	r, bot, _ := newTestRouter(t, g)

	r.HandleUpdate(context.Background(), photo(4, "", "missing"))
	r.HandleUpdate(context.Background(), photo(4, "", "gone"))
	r.Wait()

	assert.Empty(t, g.reqs)
	msgs := bot.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Contains(t, m, "trace-42")
	}
}

func TestStitch(t *testing.T) {
	out, err := stitch([][]byte{pngPage(t, 10, 5), pngPage(t, 20, 8)})
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 13), img.Bounds())

	// the narrow page is centred on white
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Greater(t, g>>8, uint32(200))
	assert.Greater(t, b>>8, uint32(200))

	_, err = stitch([][]byte{pngPage(t, 2, 2), []byte("not an image")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
}

func TestScaleDown(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	dst := scaleDown(src, 10, 5)
	assert.Equal(t, image.Rect(0, 0, 10, 5), dst.Bounds())
}

func TestPoll(t *testing.T) {
	g := &fakeGrader{}
	r, bot, _ := newTestRouter(t, g)
	bot.errs = []error{errors.New("boom")}
	bot.updates = [][]tgbotapi.Update{
		{func() tgbotapi.Update { u := command(1, "/health"); u.UpdateID = 10; return u }()},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Poll(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(bot.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	assert.Equal(t, "✅ OK", bot.messages()[0])
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"nil", nil, 0},
		{"api retry after", &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7}}, 7 * time.Second},
		{"text retry after", errors.New("Too Many Requests: retry after 5"), 5 * time.Second},
		{"too many requests", errors.New("too many requests"), 3 * time.Second},
		{"timeout", timeoutErr{}, 2 * time.Second},
		{"other", io.ErrUnexpectedEOF, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.err))
		})
	}
}
