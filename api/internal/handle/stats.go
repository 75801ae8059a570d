package handle

import (
	"fmt"
	"net/http"

	"homework-review/api/internal/apperr"
)

// Stats returns timing statistics, all labels or ?label=... only, with a
// memory snapshot.
func (h *Handle) Stats(w http.ResponseWriter, r *http.Request) error {
	mem := h.monitor.LogMemory("stats")
	if label := r.URL.Query().Get("label"); label != "" {
		st, ok := h.monitor.Stats(label)
		if !ok {
			return apperr.InvalidParams(fmt.Sprintf("no stats for label %q", label), nil)
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"label":  label,
			"stats":  st,
			"memory": mem,
		})
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"stats":  h.monitor.AllStats(),
		"memory": mem,
	})
}

// ClearStats drops the samples of ?label=..., or all of them.
func (h *Handle) ClearStats(w http.ResponseWriter, r *http.Request) error {
	h.monitor.Clear(r.URL.Query().Get("label"))
	w.WriteHeader(http.StatusNoContent)
	return nil
}
