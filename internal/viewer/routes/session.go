package routes

import (
	"net/http"

	"github.com/petervdpas/boombox/internal/state"
)

type sessionInfo struct {
	PeerID    string `json:"peer_id"`
	Room      string `json:"room"`
	Connected bool   `json:"connected"`
	MasterID  string `json:"master_id,omitempty"`
	IsMaster  bool   `json:"is_master"`
}

func registerSessionRoutes(mux *http.ServeMux, d Deps) {
	info := func() sessionInfo {
		room := d.Session.Room()
		master := d.Session.MasterID()
		return sessionInfo{
			PeerID:    d.Session.ID(),
			Room:      room,
			Connected: room != "",
			MasterID:  master,
			IsMaster:  master != "" && master == d.Session.ID(),
		}
	}

	// GET /api/listen/session
	mux.HandleFunc("/api/listen/session", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, info())
	})

	// POST /api/listen/join {room}
	mux.HandleFunc("/api/listen/join", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			Room string `json:"room"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		prev := d.Session.Room()
		if err := d.Session.JoinSession(req.Room); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if prev != "" && prev != d.Session.Room() {
			d.Listen.ResetSession()
		}
		writeJSON(w, info())
	})

	// POST /api/listen/leave
	mux.HandleFunc("/api/listen/leave", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		d.Session.LeaveSession()
		d.Listen.ResetSession()
		writeJSON(w, info())
	})

	// GET /api/listen/members
	mux.HandleFunc("/api/listen/members", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Members.Snapshot())
	})

	// GET /api/listen/members/ws: a snapshot event, then every table change.
	mux.HandleFunc("/api/listen/members/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		events := d.Members.Subscribe()
		defer d.Members.Unsubscribe(events)

		closed := drainFrames(conn)
		if err := conn.WriteJSON(state.MemberEvent{Type: "snapshot", Members: d.Members.Snapshot()}); err != nil {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			}
		}
	})
}
