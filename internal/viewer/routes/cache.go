package routes

import (
	"net/http"

	"github.com/petervdpas/boombox/internal/cache"
)

// cachedClip is a cache entry plus how often it has been acquired.
type cachedClip struct {
	cache.Entry
	Plays int `json:"plays"`
}

func registerCacheRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/cache
	mux.HandleFunc("/api/cache", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		entries, err := d.Cache.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]cachedClip, 0, len(entries))
		for _, e := range entries {
			c := cachedClip{Entry: e}
			if d.History != nil {
				if c.Plays, err = d.History.PlayCount(string(e.ID)); err != nil {
					log.Warnf("play count for %s: %v", e.ID, err)
				}
			}
			out = append(out, c)
		}
		writeJSON(w, out)
	})

	// POST /api/cache/clear
	mux.HandleFunc("/api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := d.Cache.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		log.Infof("cache cleared")
		writeJSON(w, map[string]string{"status": "cleared"})
	})
}
