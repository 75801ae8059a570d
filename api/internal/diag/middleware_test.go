package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homework-review/api/internal/apperr"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_ReturnedError(t *testing.T) {
	rp, _ := newTestReporter(t, slog.LevelInfo, WithIDs(func() string { return "abc" }))
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		return apperr.InvalidParams("engine \"x\" is not configured", nil)
	})

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/review?engine=x", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "abc", rr.Header().Get("X-Trace-Id"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{
		"statusCode": 400.0,
		"timestamp":  "2024-05-06T07:08:09.123Z",
		"path":       "[POST]/api/review?engine=x",
		"traceId":    "abc",
		"message":    `engine "x" is not configured`,
		"error":      "InvalidParameters",
	}, body)
}

func TestMiddleware_WrappedForbiddenGetsRecord(t *testing.T) {
	rp, _ := newTestReporter(t, slog.LevelInfo, WithIDs(func() string { return "abc" }))
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		return apperr.ExternalService("ark request failed", apperr.Forbidden("upstream 403"))
	})

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/review", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "abc", rr.Header().Get("X-Trace-Id"))

	var rec Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "ark request failed", rec.Message)
	assert.Equal(t, "ExternalServiceFailure", rec.Error)
}

func TestMiddleware_Success(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelDebug)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		_, err := w.Write([]byte("ok"))
		return err
	})
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Empty(t, buf.String())
}

func TestMiddleware_Panic(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelInfo)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		panic("index out of range")
	})

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var rec Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "panic: index out of range", rec.Message)
	assert.Equal(t, "Unclassified", rec.Error)
	assert.NotEmpty(t, rec.TraceID)
	assert.Contains(t, buf.String(), "TestMiddleware_Panic")
}

func TestMiddleware_Passthrough(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelInfo)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		return apperr.NotFound("Cannot GET /nope")
	})

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Cannot GET /nope\n", rr.Body.String())
	assert.Empty(t, rr.Header().Get("X-Trace-Id"))
	assert.NotContains(t, buf.String(), "ERROR")
}

func TestMiddleware_ResponseAlreadyStarted(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelInfo)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusAccepted)
		return errors.New("late failure")
	})

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Contains(t, buf.String(), "late failure")
}

func TestMiddleware_LogsJSONBody(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelDebug)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		_, _ = io.ReadAll(r.Body)
		return apperr.InvalidParams("", nil)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/review", strings.NewReader(`{"image":"abc","engine":"ark"}`))
	req.Header.Set("Content-Type", "application/json")
	serve(h, req)

	assert.Contains(t, buf.String(), `request data:{\"image\":\"abc\",\"engine\":\"ark\"}`)
}

func TestMiddleware_LogsMultipartMetadata(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelDebug)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return err
		}
		return apperr.ExternalService("model down", nil)
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("engine", "gemini"))
	fw, err := mw.CreateFormFile("image", "page.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("not really a png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/review", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := serve(h, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	out := buf.String()
	assert.Contains(t, out, `\"fields\":{\"engine\":[\"gemini\"]}`)
	assert.Contains(t, out, `\"filename\":\"page.png\"`)
	assert.NotContains(t, out, "not really a png")
}

func TestMiddleware_QueryPayload(t *testing.T) {
	rp, buf := newTestReporter(t, slog.LevelDebug)
	h := rp.Middleware(func(w http.ResponseWriter, r *http.Request) error {
		return apperr.WrongCall("", nil)
	})
	serve(h, httptest.NewRequest(http.MethodGet, "/api/stats?label=review", nil))
	assert.Contains(t, buf.String(), `request data:{\"label\":[\"review\"]}`)
}

func TestReport_Direct(t *testing.T) {
	rp, _ := newTestReporter(t, slog.LevelInfo)
	rr := httptest.NewRecorder()
	rp.Report(rr, httptest.NewRequest(http.MethodDelete, "/api/review", nil), apperr.AccountMissing("", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
}
