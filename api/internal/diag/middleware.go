package diag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"

	"homework-review/api/internal/apperr"
)

// HandlerFunc is a route handler that returns its failure instead of
// writing it.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// maxCapturedBody bounds how much of a JSON body is kept for the debug log.
const maxCapturedBody = 64 << 10

// Report answers r with err: default handling for routing errors, a JSON
// Record for everything else.
func (rp *Reporter) Report(w http.ResponseWriter, r *http.Request, err error) {
	rp.report(w, r, err, nil)
}

func (rp *Reporter) report(w http.ResponseWriter, r *http.Request, err error, body *bodyTee) {
	if he, ok := apperr.AsPassthrough(err); ok {
		rp.Capture(he, r.Method, r.URL.RequestURI(), nil)
		if !written(w) {
			http.Error(w, he.Error(), he.Status)
		}
		return
	}

	rec, _ := rp.Capture(err, r.Method, r.URL.RequestURI(), requestPayload(r, body))
	if written(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Trace-Id", rec.TraceID)
	w.WriteHeader(rec.StatusCode)
	_ = json.NewEncoder(w).Encode(rec)
}

// Middleware is the single interception point for a route: returned errors
// and panics both end up in Report.
func (rp *Reporter) Middleware(next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		var tee *bodyTee
		if r.Body != nil && isJSON(r.Header.Get("Content-Type")) {
			tee = &bodyTee{rc: r.Body}
			r.Body = tee
		}

		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			rp.report(sw, r, panicError(v), tee)
		}()

		if err := next(sw, r); err != nil {
			rp.report(sw, r, err, tee)
		}
	})
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return apperr.Unknown(fmt.Errorf("panic: %w", err), "")
	}
	return apperr.Unknown(fmt.Errorf("panic: %v", v), "")
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || mt == "text/json")
}

// requestPayload picks what the request carried: the JSON body, multipart
// fields with file metadata, url-encoded form values or the query string.
func requestPayload(r *http.Request, body *bodyTee) any {
	if body != nil {
		if b := body.Bytes(); len(b) > 0 {
			if json.Valid(b) {
				return json.RawMessage(b)
			}
			return string(b)
		}
	}
	if mf := r.MultipartForm; mf != nil {
		type fileMeta struct {
			Field       string `json:"field"`
			Filename    string `json:"filename"`
			Size        int64  `json:"size"`
			ContentType string `json:"contentType"`
		}
		var files []fileMeta
		for field, hs := range mf.File {
			for _, fh := range hs {
				files = append(files, fileMeta{field, fh.Filename, fh.Size, fh.Header.Get("Content-Type")})
			}
		}
		if len(mf.Value) == 0 && len(files) == 0 {
			return nil
		}
		return map[string]any{"fields": mf.Value, "files": files}
	}
	if len(r.PostForm) > 0 {
		return r.PostForm
	}
	if q := r.URL.Query(); len(q) > 0 {
		return q
	}
	return nil
}

// bodyTee keeps a bounded copy of what the handler reads from the body.
type bodyTee struct {
	rc  io.ReadCloser
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *bodyTee) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.mu.Lock()
		if room := maxCapturedBody - t.buf.Len(); room > 0 {
			t.buf.Write(p[:min(n, room)])
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *bodyTee) Close() error { return t.rc.Close() }

func (t *bodyTee) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.buf.Bytes())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func written(w http.ResponseWriter) bool {
	sw, ok := w.(*statusWriter)
	if ok && sw.status != 0 {
		slog.Debug("response already started, failure only logged", slog.Int("status", sw.status))
		return true
	}
	return false
}
