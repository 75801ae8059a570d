package handle

import (
	"net/http"
	"time"
)

func (h *Handle) Health(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"engines":        h.engs.Names(),
		"default_engine": h.engs.Default(),
		"uptime_sec":     int64(time.Since(h.startedAt).Seconds()),
	})
}
