package routes

import (
	"encoding/json"
	"net/http"

	"github.com/petervdpas/boombox/internal/logs"
)

func registerAPILogRoutes(mux *http.ServeMux, d Deps) {
	if d.Logs == nil {
		return
	}

	// ?subsystem=player&level=warn&limit=100
	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		q, err := logs.ParseQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, d.Logs.Entries(q))
	})

	// Server-Sent Events, new entries only; same filters minus limit.
	mux.HandleFunc("/api/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		q, err := logs.ParseQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		_ = d.Logs.Stream(r.Context(), q, func(e logs.Entry) error {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte("event: " + e.Subsystem + "\ndata: " + string(b) + "\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
	})
}
