package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/boombox/internal/listen"
)

// statusPushInterval bounds how stale a websocket client's position gets
// while nothing else changes.
const statusPushInterval = time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is loopback-only; browsers on any local origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerListenRoutes(mux *http.ServeMux, d Deps) {
	lm := d.Listen

	// GET /api/listen/state
	mux.HandleFunc("/api/listen/state", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, lm.Status())
	})

	// POST /api/listen/play {url}
	mux.HandleFunc("/api/listen/play", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if err := lm.RequestPlay(r.Context(), strings.TrimSpace(req.URL)); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, listen.ErrInvalidReference) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, map[string]string{"status": "requested"})
	})

	// POST /api/listen/stop
	mux.HandleFunc("/api/listen/stop", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := lm.RequestStop(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]string{"status": "requested"})
	})

	// POST /api/listen/seek {seconds, forward}
	mux.HandleFunc("/api/listen/seek", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			Seconds float64 `json:"seconds"`
			Forward bool    `json:"forward"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if err := lm.RequestSeek(r.Context(), req.Seconds, req.Forward); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, listen.ErrNegativeSeek) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, map[string]string{"status": "requested"})
	})

	// POST /api/listen/volume {volume}
	mux.HandleFunc("/api/listen/volume", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			Volume *float64 `json:"volume"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.Volume == nil || *req.Volume < 0 || *req.Volume > 1 {
			writeError(w, http.StatusBadRequest, errors.New("volume must be 0..1"))
			return
		}
		d.Player.SetVolume(*req.Volume)
		writeJSON(w, map[string]float64{"volume": d.Player.State().Volume})
	})

	// GET /api/listen/history?limit=N
	mux.HandleFunc("/api/listen/history", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if limit = atoiOrNeg(raw); limit < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
				return
			}
		}
		if d.History == nil {
			writeJSON(w, []any{})
			return
		}
		plays, err := d.History.RecentPlays(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, plays)
	})

	// POST /api/listen/history/clear
	mux.HandleFunc("/api/listen/history/clear", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if d.History == nil {
			writeError(w, http.StatusNotFound, errors.New("history is disabled"))
			return
		}
		if err := d.History.ClearHistory(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		log.Infof("play history cleared")
		writeJSON(w, map[string]string{"status": "cleared"})
	})

	// GET /api/listen/ws: status snapshot on connect, then on every player
	// change and at least once per statusPushInterval.
	mux.HandleFunc("/api/listen/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("websocket upgrade: %v", err)
			return
		}
		defer conn.Close()
		log.Debugf("status websocket connected from %s", r.RemoteAddr)

		changes, cancel := d.Player.Subscribe()
		defer cancel()

		closed := drainFrames(conn)

		t := time.NewTicker(statusPushInterval)
		defer t.Stop()

		for {
			if err := conn.WriteJSON(lm.Status()); err != nil {
				return
			}
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case <-changes:
			case <-t.C:
			}
		}
	})
}

// drainFrames reads and drops client frames so close and ping are handled.
// The returned channel closes when the connection does.
func drainFrames(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
