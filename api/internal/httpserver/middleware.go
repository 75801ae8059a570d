package httpserver

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/diag"
)

const allowMethods = "GET,POST,DELETE,PUT,OPTIONS"

// cors reflects the request origin with credentials. With a non-empty
// allow list, other origins get 403.
func cors(next http.Handler, rp *diag.Reporter, allowed []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(allowed) > 0 && !slices.Contains(allowed, origin) {
			rp.Report(w, r, apperr.Forbidden(fmt.Sprintf("origin %s is not allowed", origin)))
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", allowMethods)
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody caps request bodies. A declared length over the cap is rejected
// up front; an undeclared one fails on read with *http.MaxBytesError.
func limitBody(next http.Handler, rp *diag.Reporter, limit int64) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			rp.Report(w, r, apperr.TooLarge(fmt.Sprintf("request body exceeds %d bytes", limit)))
			return
		}
		if r.Body != nil && !strings.EqualFold(r.Method, http.MethodGet) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}
